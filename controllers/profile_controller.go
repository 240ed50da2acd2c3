package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/middleware"
)

type ProfileController struct {
	profiles backend.Profiles
}

func NewProfileController(profiles backend.Profiles) *ProfileController {
	return &ProfileController{profiles: profiles}
}

func (pc *ProfileController) GetProfile(c *gin.Context) {
	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	profile, err := pc.profiles.GetProfile(ctx, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	fetchSuccess(c, profile)
}

// SetPushToken registers the device token order updates are pushed to.
func (pc *ProfileController) SetPushToken(c *gin.Context) {
	var body struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token is required"})
		return
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	profile, err := pc.profiles.SetPushToken(ctx, middleware.UserID(c), strings.TrimSpace(body.Token))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Push token saved", "data": profile})
}
