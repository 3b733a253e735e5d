package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/config"
	"douyin-harvester/internal/events"
	"douyin-harvester/internal/export"
	"douyin-harvester/internal/fetch"
	"douyin-harvester/internal/license"
	"douyin-harvester/internal/logx"
	"douyin-harvester/internal/rules"
	"douyin-harvester/internal/service"
	"douyin-harvester/internal/store"
	"douyin-harvester/internal/vision"
)

// ErrLicense 授权无效且无法自动激活。
var ErrLicense = errors.New("license invalid: run `license activate <key>`")

// ErrSimpleMode 极简模式下没有数据库可查询。
var ErrSimpleMode = errors.New("not available in SIMPLE_MODE")

// app 持有一次命令运行所需的全部依赖。
type app struct {
	cfg   *config.Config
	rules *rules.Rules
	fetch *fetch.Client
	lic   *license.Client
	bus   *events.Bus

	db   *store.SQLite
	sink *service.MemorySink

	session *browser.Session
	reg     *service.Registry
}

// newApp 加载配置与规则并初始化日志、HTTP 客户端与存储；浏览器在首次运行服务时才启动。
func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.simple {
		cfg.SimpleMode = true
	}
	logx.Init(logx.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Locale: cfg.LogLocale,
		Color:  cfg.LogColor,
		Output: opts.logOut,
	})

	rulesPath := opts.rules
	if rulesPath == "" {
		rulesPath = cfg.RulesPath
	}
	rl, err := rules.Load(rulesPath)
	if err != nil {
		return nil, err
	}

	cl, err := fetch.New(fetch.Options{
		ProxyHTTP:  cfg.Proxy.HTTP,
		ProxyHTTPS: cfg.Proxy.HTTPS,
		Timeout:    25 * time.Second,
		Retry:      cfg.Retry,
	})
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}

	a := &app{cfg: cfg, rules: rl, fetch: cl, bus: events.NewBus()}
	server := firstNonEmpty(cfg.License.Server, os.Getenv("LICENSE_SERVER"), license.DefaultServer)
	a.lic = license.New(cl, server, cfg.License.CachePath)

	if cfg.SimpleMode {
		a.sink = service.NewMemorySink()
		logx.Infof("极简模式：不打开数据库，结束后导出 %s", cfg.ExportPath)
		return a, nil
	}
	db, err := store.OpenSQLite(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.db = db
	return a, nil
}

func (a *app) store() service.Store {
	if a.sink != nil {
		return a.sink
	}
	return a.db
}

// registry 惰性创建浏览器会话与服务注册表。
func (a *app) registry() *service.Registry {
	if a.reg != nil {
		return a.reg
	}
	b := a.cfg.Browser
	a.session = browser.NewSession(browser.Options{
		UserDataDir:  b.UserDataDir,
		Bin:          b.Bin,
		Headless:     b.Headless,
		ViewportW:    b.ViewportW,
		ViewportH:    b.ViewportH,
		UserAgent:    firstNonEmpty(b.UserAgent, os.Getenv("DYH_UA")),
		Flags:        b.Flags,
		MockPatterns: b.MockPatterns,
		OpTimeout:    b.OpTimeout(),
		MaxRetries:   b.MaxRetries,
	}, nil)
	a.reg = service.NewRegistry(&service.Runner{
		Cfg:       a.cfg,
		Rules:     a.rules,
		Session:   a.session,
		Store:     a.store(),
		Fetch:     a.fetch,
		Bus:       a.bus,
		Templates: vision.NewTemplates(a.cfg.Templates),
	})
	return a.reg
}

func (a *app) Close() error {
	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Stop())
	}
	a.bus.Close()
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// checkLicense 在 LICENSE.required 时校验授权；缓存无效但配置了 key 时自动激活一次。
func (a *app) checkLicense(ctx context.Context) error {
	if !a.cfg.License.Required {
		return nil
	}
	if st := a.lic.Status(); st.Valid {
		return nil
	}
	key := firstNonEmpty(a.cfg.License.Key, os.Getenv("DYH_LICENSE_KEY"))
	if key == "" {
		return ErrLicense
	}
	st, err := a.lic.Activate(ctx, key)
	if err != nil {
		return fmt.Errorf("activate license: %w", err)
	}
	if !st.Valid {
		return ErrLicense
	}
	return nil
}

// runService 同步运行一个服务，同时把事件打印到日志；极简模式结束后导出 JSON。
func (a *app) runService(ctx context.Context, name string, p service.Params) (service.Report, error) {
	if err := a.checkLicense(ctx); err != nil {
		return service.Report{}, err
	}
	reg := a.registry()
	sub := a.bus.Subscribe(64)
	defer sub.Close()

	var rep service.Report
	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		var err error
		rep, err = reg.Run(gctx, name, p)
		return err
	})
	g.Go(func() error {
		printEvents(sub, done)
		return nil
	})
	err := g.Wait()
	if a.sink != nil {
		videos, users := a.sink.Snapshot()
		if xerr := export.ToJSONData(videos, users, a.cfg.ExportPath); xerr != nil {
			err = errors.Join(err, fmt.Errorf("export json: %w", xerr))
		} else {
			logx.Infof("已导出 %s（视频 %d，用户 %d）", a.cfg.ExportPath, len(videos), len(users))
		}
	}
	return rep, err
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
