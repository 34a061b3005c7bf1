package recurring

import (
	"net/http"

	"opsdesk/pkg/errutil"
	"opsdesk/services/ticket"
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

func (r *contextRequest) toTemplate() TemplateContext {
	if r == nil {
		return TemplateContext{}
	}
	return TemplateContext{
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

type createConfigRequest struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	Priority    string          `json:"priority" binding:"required,oneof=low medium high critical"`
	AssigneeID  *string         `json:"assignee_id"`
	Branch      string          `json:"branch"`
	CronExpr    string          `json:"cron_expr" binding:"required"`
	Context     *contextRequest `json:"context"`
}

type updateConfigRequest struct {
	Description *string         `json:"description"`
	Priority    *string         `json:"priority" binding:"omitempty,oneof=low medium high critical"`
	AssigneeID  *string         `json:"assignee_id"`
	Branch      *string         `json:"branch"`
	CronExpr    *string         `json:"cron_expr"`
	IsActive    *bool           `json:"is_active"`
	Context     *contextRequest `json:"context"`
}

type RoutesParams struct {
	fx.In
	Engine  *gin.Engine
	Service *Service
	Users   user.Repository
}

func RegisterRoutes(p RoutesParams) {
	svc := p.Service
	actor := user.Actor(p.Users)

	g := p.Engine.Group("/v1/recurring-configs", actor)

	g.POST("", func(c *gin.Context) {
		a, _ := user.FromContext(c)

		var req createConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
			return
		}

		cfg, err := svc.CreateConfig(c.Request.Context(), CreateConfigInput{
			Title:       req.Title,
			Description: req.Description,
			Priority:    ticket.Priority(req.Priority),
			AssigneeID:  req.AssigneeID,
			Branch:      req.Branch,
			CronExpr:    req.CronExpr,
			Context:     req.Context.toTemplate(),
		}, a)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, cfg)
	})

	g.GET("", func(c *gin.Context) {
		configs, err := svc.ListConfigs(c.Request.Context(), c.Query("active") == "true")
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"configs": configs})
	})

	g.GET("/:id", func(c *gin.Context) {
		cfg, err := svc.GetConfig(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, cfg)
	})

	g.PATCH("/:id", func(c *gin.Context) {
		a, _ := user.FromContext(c)

		var req updateConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
			return
		}

		in := UpdateConfigInput{
			Description: req.Description,
			AssigneeID:  req.AssigneeID,
			Branch:      req.Branch,
			CronExpr:    req.CronExpr,
			IsActive:    req.IsActive,
		}
		if req.Priority != nil {
			pr := ticket.Priority(*req.Priority)
			in.Priority = &pr
		}
		if req.Context != nil {
			tc := req.Context.toTemplate()
			in.Context = &tc
		}

		cfg, err := svc.UpdateConfig(c.Request.Context(), c.Param("id"), in, a)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, cfg)
	})

	g.DELETE("/:id", func(c *gin.Context) {
		a, _ := user.FromContext(c)
		if err := svc.DeleteConfig(c.Request.Context(), c.Param("id"), a); err != nil {
			c.Error(err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/:id/run", func(c *gin.Context) {
		a, _ := user.FromContext(c)
		t, err := svc.RunNow(c.Request.Context(), c.Param("id"), a)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, t)
	})
}
