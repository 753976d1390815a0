package main

import (
	"github.com/gin-gonic/gin"
	"github.com/thereayou/banya/internal/bans"
	"github.com/thereayou/banya/internal/handlers"
	"github.com/thereayou/banya/internal/middleware"
)

func APIEndpoints(r *gin.Engine, roomH *handlers.RoomHandler, configH *handlers.ConfigHandler, bansRegistry *bans.Registry) {
	r.Use(middleware.Signed())
	r.Use(middleware.Banned(bansRegistry))

	// Room endpoints
	rooms := r.Group("/rooms")
	{
		rooms.GET("", roomH.ListRooms)
		rooms.GET("/:roomID", roomH.GetRoom)
		rooms.GET("/:roomID/event-stream", middleware.RequireSignature(), roomH.EventStream)
		rooms.GET("/:roomID/ws", middleware.RequireSignature(), roomH.WebSocket)
		rooms.POST("/:roomID/send", middleware.RequireSignature(), roomH.Send)
		rooms.POST("/:roomID/set-attributes", middleware.RequireSignature(), roomH.SetAttributes)
		rooms.POST("/:roomID/leave", middleware.RequireSignature(), roomH.Leave)
		rooms.POST("/:roomID/architecture", middleware.RequireSignature(), roomH.SetArchitecture)
		rooms.POST("/:roomID/filmstrips", middleware.RequireSignature(), roomH.UploadFilmstrip)
		rooms.GET("/:roomID/filmstrips/:identity", roomH.GetFilmstrip)
	}

	// Admin endpoints
	adminConfig := r.Group("/config", middleware.RequireSignature())
	{
		adminConfig.POST("/authorities", configH.ListAuthorities)
		adminConfig.POST("/authorities/verify", configH.VerifyBadge)
		adminConfig.POST("/authorities/:key/create", configH.CreateAuthority)
		adminConfig.POST("/authorities/:key/delete", configH.DeleteAuthority)
		adminConfig.POST("/bans", configH.ListBans)
		adminConfig.POST("/bans/create", configH.CreateBan)
		adminConfig.POST("/bans/:uuid/delete", configH.DeleteBan)
	}
}
