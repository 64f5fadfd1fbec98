package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/reelworks/sportsreel-backend/internal/repos"
	"github.com/reelworks/sportsreel-backend/internal/types"
)

type AthleteHandler struct {
	athleteRepo repos.AthleteRepo
}

func NewAthleteHandler(athleteRepo repos.AthleteRepo) *AthleteHandler {
	return &AthleteHandler{athleteRepo: athleteRepo}
}

func (ah *AthleteHandler) Create(c *gin.Context) {
	var req struct {
		Name         string   `json:"name"`
		Sport        string   `json:"sport"`
		Biography    string   `json:"biography"`
		Achievements []string `json:"achievements"`
		ImageURLs    []string `json:"image_urls"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Name == "" || req.Sport == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and sport are required"})
		return
	}

	achievements, _ := json.Marshal(req.Achievements)
	imageURLs, _ := json.Marshal(req.ImageURLs)
	athlete := &types.Athlete{
		ID:           uuid.New(),
		Name:         req.Name,
		Sport:        req.Sport,
		Biography:    req.Biography,
		Achievements: datatypes.JSON(achievements),
		ImageURLs:    datatypes.JSON(imageURLs),
	}
	created, err := ah.athleteRepo.Create(c.Request.Context(), nil, []*types.Athlete{athlete})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create athlete"})
		return
	}
	c.JSON(http.StatusCreated, created[0])
}

func (ah *AthleteHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid athlete id"})
		return
	}
	athletes, err := ah.athleteRepo.GetByIDs(c.Request.Context(), nil, []uuid.UUID{id})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load athlete"})
		return
	}
	if len(athletes) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "athlete not found"})
		return
	}
	c.JSON(http.StatusOK, athletes[0])
}

func (ah *AthleteHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	athletes, err := ah.athleteRepo.List(c.Request.Context(), nil, c.Query("sport"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list athletes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"athletes": athletes})
}

func (ah *AthleteHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid athlete id"})
		return
	}
	var req struct {
		Name         *string   `json:"name"`
		Sport        *string   `json:"sport"`
		Biography    *string   `json:"biography"`
		Achievements *[]string `json:"achievements"`
		ImageURLs    *[]string `json:"image_urls"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Sport != nil {
		updates["sport"] = *req.Sport
	}
	if req.Biography != nil {
		updates["biography"] = *req.Biography
	}
	if req.Achievements != nil {
		raw, _ := json.Marshal(*req.Achievements)
		updates["achievements"] = datatypes.JSON(raw)
	}
	if req.ImageURLs != nil {
		raw, _ := json.Marshal(*req.ImageURLs)
		updates["image_urls"] = datatypes.JSON(raw)
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}
	if err := ah.athleteRepo.Update(c.Request.Context(), nil, id, updates); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update athlete"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "true"})
}

func (ah *AthleteHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid athlete id"})
		return
	}
	if err := ah.athleteRepo.Delete(c.Request.Context(), nil, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete athlete"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "true"})
}
