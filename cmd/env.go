package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/cache"
	"github.com/sells-group/leadgen/internal/cost"
	"github.com/sells-group/leadgen/internal/crm"
	"github.com/sells-group/leadgen/internal/enrich"
	"github.com/sells-group/leadgen/internal/governor"
	"github.com/sells-group/leadgen/internal/monitoring"
	"github.com/sells-group/leadgen/internal/provider"
	"github.com/sells-group/leadgen/internal/queue"
	"github.com/sells-group/leadgen/internal/scorer"
	"github.com/sells-group/leadgen/internal/store"
)

// pipelineEnv holds the initialized store, queue, and engines shared by
// the import/work/status/serve commands.
type pipelineEnv struct {
	Store        store.Store
	Queue        queue.Queue
	Redis        *redis.Client // nil when running on the in-memory queue
	Registry     *provider.Registry
	Orchestrator *enrich.Orchestrator
	Scorer       *scorer.Scorer
	Engine       *crm.Engine // nil when Salesforce is not configured
	Collector    *monitoring.Collector
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Redis != nil {
		_ = pe.Redis.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadgen.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initQueue prefers Redis; with no address configured it falls back to
// the in-memory queue, which only makes sense for a single process.
func initQueue() (queue.Queue, *redis.Client) {
	if cfg.Redis.Addr == "" {
		zap.L().Warn("redis not configured, using in-memory queue")
		return queue.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return queue.NewRedis(client), client
}

func initRegistry(st store.Store) *provider.Registry {
	gov := governor.New(st, cost.NewCalculator(cfg.Rates()), cfg.Limits)

	reg := provider.NewRegistry()
	if cfg.Apollo.Key != "" {
		reg.RegisterSearcher(provider.NewApollo(cfg.Apollo.Key, gov).WithBaseURL(cfg.Apollo.BaseURL))
	}
	if cfg.Proxycurl.Key != "" {
		reg.RegisterSearcher(provider.NewProxycurl(cfg.Proxycurl.Key, gov).WithBaseURL(cfg.Proxycurl.BaseURL))
	}
	if cfg.Dropcontact.Key != "" {
		dc := provider.NewDropcontact(cfg.Dropcontact.Key, gov).
			WithBaseURL(cfg.Dropcontact.BaseURL).
			WithPolling(
				time.Duration(cfg.Dropcontact.PollSecs)*time.Second,
				time.Duration(cfg.Dropcontact.TimeoutSecs)*time.Second,
			)
		reg.RegisterVerifier(dc)
	}
	return reg
}

func initSalesforce() (*crm.Salesforce, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (LEADGEN_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return crm.NewSalesforce(sf, crm.WithRateLimit(cfg.Salesforce.RequestsPerSec)), nil
}

// initEnv sets up the store, queue, providers, and engines. Commands
// that never touch Salesforce can pass needCRM=false and run without
// credentials. Callers should defer env.Close().
func initEnv(ctx context.Context, needCRM bool) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	q, redisClient := initQueue()
	reg := initRegistry(st)

	var enrichCache *cache.Cache
	if cfg.Cache.Enabled {
		ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
		if redisClient != nil {
			enrichCache = cache.New(cache.NewRedisKV(redisClient), ttl)
		} else {
			enrichCache = cache.New(cache.NewMemoryKV(), ttl)
		}
	}

	enrichCfg := enrich.DefaultConfig()
	enrichCfg.Primary = cfg.Enrich.Primary
	enrichCfg.Fallback = cfg.Enrich.Fallback
	enrichCfg.Verifier = cfg.Enrich.Verifier
	enrichCfg.FallbackThreshold = cfg.Enrich.FallbackThreshold
	enrichCfg.MaxContacts = cfg.Enrich.MaxContacts
	orchestrator := enrich.New(st, reg, enrichCache, q, enrichCfg)

	scoreCfg, err := scorer.LoadConfig(cfg.Scoring.ConfigPath)
	if err != nil {
		cleanup(st, redisClient)
		return nil, eris.Wrap(err, "load scoring config")
	}
	sc := scorer.New(scoreCfg)

	var engine *crm.Engine
	if needCRM {
		sfClient, err := initSalesforce()
		if err != nil {
			cleanup(st, redisClient)
			return nil, err
		}
		engineCfg := crm.DefaultEngineConfig()
		engineCfg.DealThreshold = cfg.CRM.DealThreshold
		engineCfg.DealStage = cfg.CRM.DealStage
		engineCfg.DealCloseDays = cfg.CRM.DealCloseDays
		engine = crm.NewEngine(st, sfClient, engineCfg)
	}

	return &pipelineEnv{
		Store:        st,
		Queue:        q,
		Redis:        redisClient,
		Registry:     reg,
		Orchestrator: orchestrator,
		Scorer:       sc,
		Engine:       engine,
		Collector:    monitoring.NewCollector(st, q, cfg.CRM.DealThreshold),
	}, nil
}

func cleanup(st store.Store, redisClient *redis.Client) {
	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = st.Close()
}
