package v1

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/incometax/taxbot/internal/profile"
	"github.com/incometax/taxbot/server/assistant"
	"github.com/incometax/taxbot/store"
)

// Index reports the size of the corpus index.
type Index interface {
	IndexName() string
	TopK() int
	Count() int
}

type APIV1Service struct {
	Profile   *profile.Profile
	Store     *store.Store
	Assistant *assistant.Assistant
	Index     Index
	Logger    zerolog.Logger

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, assistant *assistant.Assistant, index Index, logger zerolog.Logger) *APIV1Service {
	return &APIV1Service{
		Profile:   profile,
		Store:     store,
		Assistant: assistant,
		Index:     index,
		Logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// RegisterRoutes mounts the API on e.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", s.healthz)
	s.registerChatRoutes(e)
}

func (s *APIV1Service) healthz(c *echo.Context) error {
	resp := map[string]any{"status": "ok"}
	if s.Index != nil {
		resp["index"] = s.Index.IndexName()
		resp["documents"] = s.Index.Count()
		resp["top_k"] = s.Index.TopK()
	}
	return c.JSON(http.StatusOK, resp)
}

// allow applies the per-session request rate. A zero rate disables limiting.
func (s *APIV1Service) allow(sessionUID string) bool {
	if s.Profile == nil || s.Profile.RateLimit <= 0 {
		return true
	}
	s.limitersMu.Lock()
	limiter, ok := s.limiters[sessionUID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.Profile.RateLimit), s.Profile.RateBurst)
		s.limiters[sessionUID] = limiter
	}
	s.limitersMu.Unlock()
	return limiter.Allow()
}

// ForgetSessions drops the rate limiters of deleted or evicted sessions.
func (s *APIV1Service) ForgetSessions(uids ...string) {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	for _, uid := range uids {
		delete(s.limiters, uid)
	}
}
