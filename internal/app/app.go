// Package app assembles habitd: config, logging, storage, the reminder
// scheduler, and the HTTP API, with hot reload for the parts that can
// change at runtime.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"habitd/internal/api"
	"habitd/internal/auth"
	"habitd/internal/config"
	"habitd/internal/habit"
	"habitd/internal/notifier/telegram"
	"habitd/internal/reminder"
	"habitd/internal/runtime/supervisor"
	"habitd/internal/storage"
	"habitd/internal/user"
	"habitd/pkg/logx"
)

// defaultCronSpec fires once per minute, matching the granularity of
// the reminder due check.
const defaultCronSpec = "* * * * *"

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store *storage.DB

	users     *user.Service
	habits    *habit.Service
	tokens    *auth.Service
	reminders *reminder.Service

	loc          *time.Location
	cron         *cron.Cron
	cronSpec     string
	cronRunning  bool
	schedEnabled bool

	api *api.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	notif, err := buildNotifier(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	accessTTL, err := config.ParseDurationField("api.access_ttl", cfg.API.AccessTTL)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	refreshTTL, err := config.ParseDurationField("api.refresh_ttl", cfg.API.RefreshTTL)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	tokens, err := auth.NewService(auth.Config{
		Secret:     cfg.API.JWTSecret,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	users := user.NewService(store, log.With(logx.String("comp", "user")))
	habits := habit.NewService(store, log.With(logx.String("comp", "habit")))
	reminders := reminder.NewService(store, notif, log.With(logx.String("comp", "reminder")))

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	spec := strings.TrimSpace(cfg.Scheduler.Spec)
	if spec == "" {
		spec = defaultCronSpec
	}

	apiSrv := api.NewServer(api.Config{
		Addr:     cfg.API.Addr,
		PageSize: cfg.API.PageSize,
	}, users, habits, tokens, log.With(logx.String("comp", "api")))

	return &App{
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		store:        store,
		users:        users,
		habits:       habits,
		tokens:       tokens,
		reminders:    reminders,
		loc:          loc,
		cronSpec:     spec,
		schedEnabled: cfg.Scheduler.Enabled,
		api:          apiSrv,
	}, nil
}

func buildNotifier(cfg *config.Config, log logx.Logger) (reminder.Notifier, error) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		log.Info("telegram token not configured; reminder delivery disabled")
		return telegram.Nop{}, nil
	}
	sendTimeout, err := config.ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout)
	if err != nil {
		return nil, err
	}
	return telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		SendTimeout: sendTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
}

// Done is closed when the supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	// SkipIfStillRunning keeps a slow dispatch tick from overlapping the
	// next one; at-most-once bookkeeping depends on single-flight runs.
	clog := cronLogger{log: a.log.With(logx.String("comp", "cron"))}
	a.cron = cron.New(
		cron.WithLocation(a.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.SkipIfStillRunning(clog)),
	)
	if _, err := a.cron.AddFunc(a.cronSpec, func() {
		a.reminders.RunOnce(a.sup.Context(), time.Now().In(a.loc))
	}); err != nil {
		return fmt.Errorf("scheduler.spec: %w", err)
	}
	if a.schedEnabled {
		a.cron.Start()
		a.cronRunning = true
		a.log.Info("reminder scheduler started",
			logx.String("spec", a.cronSpec),
			logx.String("timezone", a.loc.String()))
	} else {
		a.log.Info("reminder scheduler disabled")
	}

	a.sup.Go("api.serve", func(context.Context) error {
		return a.api.Start()
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// reloadLoop applies hot-reloadable config sections. Storage, API, and
// scheduler wiring changes need a restart; only the scheduler on/off
// switch and logging are live.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			for _, section := range restartRequired(last, newCfg) {
				a.log.Warn("config changed; restart required to take effect",
					logx.String("section", section))
			}

			if newCfg.Scheduler.Enabled != a.schedEnabled {
				a.schedEnabled = newCfg.Scheduler.Enabled
				if a.schedEnabled {
					a.log.Info("reminder scheduler enabled via config")
					a.cron.Start()
					a.cronRunning = true
				} else {
					a.log.Info("reminder scheduler disabled via config")
					stopCtx := a.cron.Stop()
					select {
					case <-stopCtx.Done():
					case <-ctx.Done():
					}
					a.cronRunning = false
				}
			}

			last = newCfg
			a.log.Info("config reloaded")
		}
	}
}

func restartRequired(old, cur *config.Config) []string {
	if old == nil || cur == nil {
		return nil
	}
	var sections []string
	if old.Storage != cur.Storage {
		sections = append(sections, "storage")
	}
	if old.Telegram != cur.Telegram {
		sections = append(sections, "telegram")
	}
	if old.API != cur.API {
		sections = append(sections, "api")
	}
	if old.Scheduler.Spec != cur.Scheduler.Spec || old.Scheduler.Timezone != cur.Scheduler.Timezone {
		sections = append(sections, "scheduler")
	}
	return sections
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each shutdown step gets an upper bound so one component cannot
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		start := time.Now()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached, continuing",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("api", 3*time.Second, a.api.Shutdown)
	if a.cron != nil && a.cronRunning {
		step("scheduler", 3*time.Second, func(c context.Context) error {
			select {
			case <-a.cron.Stop().Done():
				return nil
			case <-c.Done():
				return c.Err()
			}
		})
		a.cronRunning = false
	}
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// cronLogger adapts logx to the cron logging interface. Routine trigger
// chatter stays at debug; only real failures surface.
type cronLogger struct {
	log logx.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug(msg, logx.Any("details", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error(msg, logx.Err(err), logx.Any("details", keysAndValues))
}
