package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
)

// App ties the registered adapters, the interpreter and the HTTP surface
// together.
type App struct {
	Container   *Container
	Interpreter *Interpreter
	Handler     *HTTPHandler
	l           *slog.Logger
}

// NewApp builds the interpreter from the adapters registered in c. The
// container must hold a definition store and an instance store.
func NewApp(l *slog.Logger, cfg EngineConfig, c *Container) (*App, error) {
	defs, instances, err := c.Stores()
	if err != nil {
		return nil, fmt.Errorf("error building app: %w", err)
	}
	interpreter := NewInterpreter(l, cfg, defs, instances, c.Adapters())
	return &App{
		Container:   c,
		Interpreter: interpreter,
		Handler:     NewHTTPHandler(l, interpreter, instances),
		l:           l,
	}, nil
}

// Start initializes every adapter.
func (a *App) Start(ctx context.Context) error {
	return a.Container.Initialize(ctx)
}

// Router returns a gin engine with the app routes mounted.
func (a *App) Router() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery())
	a.Handler.Register(g)
	return g
}

// Shutdown stops pending delays first so no continuation runs against
// adapters that are already closed.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Interpreter.Scheduler().Shutdown(ctx)
	return errors.Join(err, a.Container.Shutdown(ctx))
}
