package user

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type createUserRequest struct {
	Username    string  `json:"username" binding:"required"`
	Email       string  `json:"email" binding:"required,email"`
	DisplayName string  `json:"display_name"`
	Role        string  `json:"role" binding:"required,oneof=admin teamlead technician viewer"`
	TeamID      *string `json:"team_id"`
}

type updateUserRequest struct {
	DisplayName *string `json:"display_name"`
	Role        *string `json:"role" binding:"omitempty,oneof=admin teamlead technician viewer"`
	TeamID      *string `json:"team_id"`
	IsActive    *bool   `json:"is_active"`
}

type createTeamRequest struct {
	Name   string  `json:"name" binding:"required"`
	LeadID *string `json:"lead_id"`
}

func RegisterRoutes(r *gin.Engine, svc *Service) {
	actor := Actor(svc.repo)

	g := r.Group("/v1/users", actor)
	g.POST("", func(c *gin.Context) {
		a, _ := FromContext(c)

		var req createUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(err)
			return
		}

		u, err := svc.CreateUser(c.Request.Context(), CreateInput{
			Username:    req.Username,
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Role:        Role(req.Role),
			TeamID:      req.TeamID,
		}, a)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, u)
	})
	g.GET("", func(c *gin.Context) {
		users, err := svc.ListUsers(c.Request.Context())
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	})
	g.GET("/:id", func(c *gin.Context) {
		u, err := svc.GetUser(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, u)
	})
	g.PATCH("/:id", func(c *gin.Context) {
		a, _ := FromContext(c)

		var req updateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(err)
			return
		}

		in := UpdateInput{
			DisplayName: req.DisplayName,
			TeamID:      req.TeamID,
			IsActive:    req.IsActive,
		}
		if req.Role != nil {
			role := Role(*req.Role)
			in.Role = &role
		}

		u, err := svc.UpdateUser(c.Request.Context(), c.Param("id"), in, a)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, u)
	})
	g.DELETE("/:id", func(c *gin.Context) {
		a, _ := FromContext(c)
		if err := svc.DeleteUser(c.Request.Context(), c.Param("id"), a); err != nil {
			c.Error(err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	teams := r.Group("/v1/teams", actor)
	teams.POST("", func(c *gin.Context) {
		a, _ := FromContext(c)

		var req createTeamRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(err)
			return
		}

		t, err := svc.CreateTeam(c.Request.Context(), req.Name, req.LeadID, a)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, t)
	})
	teams.GET("", func(c *gin.Context) {
		out, err := svc.ListTeams(c.Request.Context())
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"teams": out})
	})
	teams.DELETE("/:id", func(c *gin.Context) {
		a, _ := FromContext(c)
		if err := svc.DeleteTeam(c.Request.Context(), c.Param("id"), a); err != nil {
			c.Error(err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
