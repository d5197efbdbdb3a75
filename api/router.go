package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/YlovexLN/Pallas-Bot/global/config"
	"github.com/YlovexLN/Pallas-Bot/module/repeater/chat"
	"github.com/YlovexLN/Pallas-Bot/module/status"
	"github.com/YlovexLN/Pallas-Bot/service/botconfig"
)

// BotLister 在线账号查询，由网关实现
type BotLister interface {
	OnlineBots() []int64
}

// NewRouter 管理接口
func NewRouter(cfg config.ServerConfig, engine *chat.Engine, state *botconfig.Service, st *status.Service, bots BotLister) *gin.Engine {
	gin.SetMode(cfg.Mode)
	r := gin.New()
	r.Use(gin.Recovery())

	group := r.Group("/api", JWTAuth(cfg.JwtSecret))
	group.GET("/status", statusHandler(engine, st, bots))
	group.POST("/ban", banHandler(engine))
	group.GET("/blacklist/:group_id", blacklistHandler(engine))
	group.GET("/messages/random", randomMessagesHandler(engine))
	group.POST("/drink", drinkHandler(state))
	group.POST("/sober", soberHandler(state))
	group.POST("/sleep", sleepHandler(state))
	group.POST("/taken_name", takenNameHandler(state))
	group.POST("/block", blockHandler(state))
	return r
}

func statusHandler(engine *chat.Engine, st *status.Service, bots BotLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"online_bots":  bots.OnlineBots(),
			"offline_bots": st.OfflineBots(),
			"stats":        engine.Stats(),
		})
	}
}

type banRequest struct {
	GroupID int64  `json:"group_id" binding:"required"`
	BotID   int64  `json:"bot_id" binding:"required"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func banHandler(engine *chat.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := banRequest{}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Reason == "" {
			req.Reason = "admin api"
		}

		ok, err := engine.Ban(c.Request.Context(), req.GroupID, req.BotID, req.Message, req.Reason)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"banned": ok})
	}
}

func blacklistHandler(engine *chat.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		groupID, err := strconv.ParseInt(c.Param("group_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad group_id"})
			return
		}

		answers, reserve := engine.BlacklistSnapshot(groupID)
		c.JSON(http.StatusOK, gin.H{
			"group_id": groupID,
			"answers":  answers,
			"reserve":  reserve,
		})
	}
}

// randomMessagesHandler 每个群近期一条随机发言
func randomMessagesHandler(engine *chat.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.RandomMessageFromEachGroup())
	}
}

type botGroupRequest struct {
	BotID   int64 `json:"bot_id" binding:"required"`
	GroupID int64 `json:"group_id" binding:"required"`
}

func drinkHandler(state *botconfig.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := botGroupRequest{}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		value := state.Drink(c.Request.Context(), req.BotID, req.GroupID)
		c.JSON(http.StatusOK, gin.H{"drunkenness": value})
	}
}

func soberHandler(state *botconfig.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := botGroupRequest{}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sober := state.SoberUp(c.Request.Context(), req.BotID, req.GroupID)
		c.JSON(http.StatusOK, gin.H{"fully_sober": sober})
	}
}

type sleepRequest struct {
	BotID   int64 `json:"bot_id" binding:"required"`
	GroupID int64 `json:"group_id" binding:"required"`
	Minutes int   `json:"minutes" binding:"required"`
}

func sleepHandler(state *botconfig.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := sleepRequest{}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		state.Sleep(c.Request.Context(), req.BotID, req.GroupID, time.Duration(req.Minutes)*time.Minute)
		c.Status(http.StatusNoContent)
	}
}

type takenNameRequest struct {
	BotID   int64 `json:"bot_id" binding:"required"`
	GroupID int64 `json:"group_id" binding:"required"`
	UserID  int64 `json:"user_id"`
}

// takenNameHandler 设置牛牛在某群夺舍的账号，user_id 为 0 表示取消
func takenNameHandler(state *botconfig.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := takenNameRequest{}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := state.UpdateTakenName(c.Request.Context(), req.BotID, req.GroupID, req.UserID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type blockRequest struct {
	GroupID int64 `json:"group_id" binding:"required"`
	Banned  *bool `json:"banned" binding:"required"`
}

// blockHandler 屏蔽某个群，屏蔽期间不学不回
func blockHandler(state *botconfig.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := blockRequest{}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := state.SetGroupBanned(c.Request.Context(), req.GroupID, *req.Banned); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
