package ticket

import (
	"net/http"
	"time"

	"opsdesk/pkg/db/pagination"
	"opsdesk/pkg/errutil"
	"opsdesk/pkg/objstore"
	"opsdesk/services/user"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type contextRequest struct {
	ServerName    string `json:"server_name"`
	Application   string `json:"application"`
	IPAddress     string `json:"ip_address"`
	Environment   string `json:"environment"`
	WorkstationID string `json:"workstation_id"`
	ADUser        string `json:"ad_user"`
	Manufacturer  string `json:"manufacturer"`
	Version       string `json:"version"`
}

func (r *contextRequest) toInput() *ContextInput {
	if r == nil {
		return nil
	}
	return &ContextInput{
		ServerName:    r.ServerName,
		Application:   r.Application,
		IPAddress:     r.IPAddress,
		Environment:   r.Environment,
		WorkstationID: r.WorkstationID,
		ADUser:        r.ADUser,
		Manufacturer:  r.Manufacturer,
		Version:       r.Version,
	}
}

type createTaskRequest struct {
	Title         string          `json:"title" binding:"required"`
	Description   string          `json:"description"`
	Priority      string          `json:"priority" binding:"required,oneof=low medium high critical"`
	AssigneeID    *string         `json:"assignee_id"`
	SubscriberIDs []string        `json:"subscriber_ids"`
	Branch        string          `json:"branch"`
	DueDate       *time.Time      `json:"due_date"`
	SLADeadline   *time.Time      `json:"sla_deadline"`
	Context       *contextRequest `json:"context"`
}

type editTaskRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Priority    *string         `json:"priority" binding:"omitempty,oneof=low medium high critical"`
	DueDate     *time.Time      `json:"due_date"`
	Branch      *string         `json:"branch"`
	Context     *contextRequest `json:"context"`
}

type changeStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=open in_progress pending_vendor pending_user resolved closed"`
	Note   string `json:"note"`
}

type reassignRequest struct {
	AssigneeID string `json:"assignee_id" binding:"required"`
}

type subscriberRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type commentRequest struct {
	Content string `json:"content" binding:"required"`
}

type listTasksQuery struct {
	pagination.Pagination
	Status   string `form:"status" binding:"omitempty,oneof=open in_progress pending_vendor pending_user resolved closed"`
	Priority string `form:"priority" binding:"omitempty,oneof=low medium high critical"`
	Assignee string `form:"assignee_id"`
	Creator  string `form:"creator_id"`
	Branch   string `form:"branch"`
}

type RoutesParams struct {
	fx.In
	Engine  *gin.Engine
	Service *Service
	Users   user.Repository
	Store   objstore.Store `optional:"true"`
}

func RegisterRoutes(p RoutesParams) {
	svc := p.Service
	actor := user.Actor(p.Users)

	g := p.Engine.Group("/v1/tasks", actor)

	g.POST("", func(c *gin.Context) {
		a, _ := user.FromContext(c)

		var req createTaskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
			return
		}

		t, err := svc.CreateTask(c.Request.Context(), CreateInput{
			Title:         req.Title,
			Description:   req.Description,
			Priority:      Priority(req.Priority),
			AssigneeID:    req.AssigneeID,
			SubscriberIDs: req.SubscriberIDs,
			Branch:        req.Branch,
			DueDate:       req.DueDate,
			SLADeadline:   req.SLADeadline,
			Context:       req.Context.toInput(),
		}, a.ID)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, t)
	})

	g.GET("", func(c *gin.Context) {
		var q listTasksQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.Error(errutil.BadRequest("invalid query", errutil.WithErr(err)))
			return
		}

		params := ListParams{
			Status:     Status(q.Status),
			Priority:   Priority(q.Priority),
			AssigneeID: q.Assignee,
			CreatorID:  q.Creator,
			Branch:     q.Branch,
			Limit:      q.Limit + 1, // over-fetch one row to detect another page
		}
		if q.Cursor != "" {
			cursor, err := pagination.DecodeCursor(q.Cursor)
			if err != nil {
				c.Error(errutil.BadRequest("invalid cursor", errutil.WithErr(err)))
				return
			}
			params.AfterCreatedAt = cursor.CreatedAt
			params.AfterID = cursor.ID
		}

		tasks, err := svc.ListTasks(c.Request.Context(), params)
		if err != nil {
			c.Error(err)
			return
		}

		tasks, page := pagination.BuildPageInfo(tasks, q.Limit, func(t *Task) string {
			encoded, _ := pagination.EncodeCursor(pagination.Cursor{
				CreatedAt: t.CreatedAt.Format(time.RFC3339Nano),
				ID:        t.ID,
			})
			return encoded
		})

		c.JSON(http.StatusOK, gin.H{"tasks": tasks, "page": page})
	})

	g.GET("/sla", func(c *gin.Context) {
		report, err := svc.SLAReport(c.Request.Context(), time.Now().UTC())
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	g.GET("/:id", func(c *gin.Context) {
		t, err := svc.GetTask(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, t)
	})

	g.PATCH("/:id", func(c *gin.Context) {
		a, _ := user.FromContext(c)

		var req editTaskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
			return
		}

		in := EditInput{
			Title:       req.Title,
			Description: req.Description,
			DueDate:     req.DueDate,
			Branch:      req.Branch,
			Context:     req.Context.toInput(),
		}
		if req.Priority != nil {
			pr := Priority(*req.Priority)
			in.Priority = &pr
		}

		t, err := svc.EditTask(c.Request.Context(), c.Param("id"), in, a)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, t)
	})

	g.DELETE("/:id", func(c *gin.Context) {
		a, _ := user.FromContext(c)
		if err := svc.DeleteTask(c.Request.Context(), p.Store, c.Param("id"), a); err != nil {
			c.Error(err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:id/status", func(c *gin.Context) {
		a, _ := user.FromContext(c)

		var req changeStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
			return
		}

		t, err := svc.ChangeStatus(c.Request.Context(), c.Param("id"), Status(req.Status), req.Note, a)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, t)
	})

	g.POST("/:id/assignee", func(c *gin.Context) {
		a, _ := user.FromContext(c)

		var req reassignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
			return
		}

		t, err := svc.Reassign(c.Request.Context(), c.Param("id"), req.AssigneeID, a)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, t)
	})

	g.POST("/:id/subscribers", func(c *gin.Context) {
		a, _ := user.FromContext(c)

		var req subscriberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
			return
		}

		if err := svc.AddSubscriber(c.Request.Context(), c.Param("id"), req.UserID, a); err != nil {
			c.Error(err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.DELETE("/:id/subscribers/:userID", func(c *gin.Context) {
		a, _ := user.FromContext(c)
		if err := svc.RemoveSubscriber(c.Request.Context(), c.Param("id"), c.Param("userID"), a); err != nil {
			c.Error(err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:id/comments", func(c *gin.Context) {
		a, _ := user.FromContext(c)

		var req commentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
			return
		}

		comment, err := svc.AddComment(c.Request.Context(), c.Param("id"), req.Content, a)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, comment)
	})

	g.GET("/:id/comments", func(c *gin.Context) {
		comments, err := svc.ListComments(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"comments": comments})
	})

	g.GET("/:id/audit", func(c *gin.Context) {
		entries, err := svc.AuditTrail(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	if p.Store != nil {
		registerAttachmentRoutes(g, svc, p.Store)
	}
}

func registerAttachmentRoutes(g *gin.RouterGroup, svc *Service, store objstore.Store) {
	g.POST("/:id/attachments", func(c *gin.Context) {
		a, _ := user.FromContext(c)

		fh, err := c.FormFile("file")
		if err != nil {
			c.Error(errutil.BadRequest("missing file upload", errutil.WithErr(err)))
			return
		}

		f, err := fh.Open()
		if err != nil {
			c.Error(errutil.Internal("failed to read upload", errutil.WithErr(err)))
			return
		}
		defer f.Close()

		attachment, err := svc.AddAttachment(c.Request.Context(), store,
			c.Param("id"), fh.Filename, fh.Header.Get("Content-Type"), fh.Size, f, a)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, attachment)
	})

	g.GET("/:id/attachments", func(c *gin.Context) {
		attachments, err := svc.ListAttachments(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"attachments": attachments})
	})

	g.DELETE("/:id/attachments/:attachmentID", func(c *gin.Context) {
		a, _ := user.FromContext(c)
		if err := svc.DeleteAttachment(c.Request.Context(), store, c.Param("id"), c.Param("attachmentID"), a); err != nil {
			c.Error(err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
