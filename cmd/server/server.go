package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/thereayou/banya/internal/bans"
	"github.com/thereayou/banya/internal/config"
	"github.com/thereayou/banya/internal/database"
	"github.com/thereayou/banya/internal/handlers"
	"github.com/thereayou/banya/internal/room"
	"github.com/thereayou/banya/internal/stream"
	"github.com/thereayou/banya/pkg/identity"
)

type Server struct {
	Router   *gin.Engine
	Config   *config.Config
	DB       *database.Database
	Redis    *redis.Client
	Rooms    *room.Registry
	Sessions *stream.Manager
}

func NewServer() *Server {
	if err := godotenv.Load(".env.local"); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Println(".env not found, using environment variables")
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	if err := db.TrimAudit(cfg.AuditMaxAge); err != nil {
		log.Printf("audit trim failed: %v", err)
	}

	if cfg.BadgeSeed != "" {
		badge := identity.NewBadge([]byte(cfg.BadgeSeed))
		registered, err := db.EnsureBootstrapAuthority(badge.Key)
		if err != nil {
			log.Fatalf("bootstrap authority failed: %v", err)
		}
		if registered {
			log.Printf("registered bootstrap admin badge key %s", badge.Key)
		}
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis connect failed: %v", err)
	}
	bansRegistry := bans.NewRegistry(rdb)

	roomConfigs, err := config.LoadRooms(cfg.RoomsDir)
	if err != nil {
		log.Fatalf("room configurations load failed: %v", err)
	}
	registry := room.NewRegistry(roomConfigs)
	log.Printf("loaded %d rooms from %s", len(roomConfigs), cfg.RoomsDir)

	sessions := stream.NewManager(cfg.DisconnectGrace)

	filmstrips := handlers.NewFilmstripStore()
	for _, rm := range registry.List() {
		filmstrips.Watch(rm)
	}

	roomH := handlers.NewRoomHandler(registry, sessions, db, filmstrips, cfg)
	configH := handlers.NewConfigHandler(db, bansRegistry)

	router := gin.Default()
	APIEndpoints(router, roomH, configH, bansRegistry)

	return &Server{
		Router:   router,
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		Rooms:    registry,
		Sessions: sessions,
	}
}

func (s *Server) Run() {
	log.Printf("Server starting on port %s", s.Config.Port)
	if err := s.Router.Run(":" + s.Config.Port); err != nil {
		log.Fatalf("Server run error: %v", err)
	}
}
