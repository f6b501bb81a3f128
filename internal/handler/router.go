package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"veltrix/internal/auth"
	"veltrix/internal/telemetry"
)

// Router assembles the engine: public health routes, then /api/v1 behind
// bearer auth. Nil handlers are skipped.
type Router struct {
	JWT            auth.JWT
	Logger         *zap.Logger
	Metrics        *telemetry.Metrics
	RequestTimeout time.Duration
	CORSOrigins    []string

	Health     *HealthHandler
	Strategies *StrategyHandler
	Brokers    *BrokerAccountHandler
	AI         *AIHandler
	Events     *EventsHandler
}

func (rt Router) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(CORS(rt.CORSOrigins))
	engine.Use(AccessLog(rt.Logger, rt.Metrics))
	engine.Use(RequestTimeout(rt.RequestTimeout))

	if rt.Health != nil {
		rt.Health.Register(engine)
	}

	api := engine.Group("/api/v1", auth.RequireBearer(rt.JWT))
	if rt.Strategies != nil {
		rt.Strategies.Register(api)
	}
	if rt.Brokers != nil {
		rt.Brokers.Register(api)
	}
	if rt.AI != nil {
		rt.AI.Register(api)
	}
	if rt.Events != nil {
		rt.Events.Register(api)
	}
	return engine
}
