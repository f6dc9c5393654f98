package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"gorm.io/gorm"

	"github.com/quizstream/quizstream-worker/internal/clients/openai"
	"github.com/quizstream/quizstream-worker/internal/clients/rabbitmq"
	"github.com/quizstream/quizstream-worker/internal/clients/redis"
	"github.com/quizstream/quizstream-worker/internal/clients/youtube"
	"github.com/quizstream/quizstream-worker/internal/db"
	"github.com/quizstream/quizstream-worker/internal/logger"
	"github.com/quizstream/quizstream-worker/internal/quizgen"
	"github.com/quizstream/quizstream-worker/internal/repos"
	"github.com/quizstream/quizstream-worker/internal/services"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Requests services.RequestService

	amqpConn  *amqp.Connection
	consumer  *rabbitmq.Consumer
	publisher *rabbitmq.Publisher
	statusBus redis.StatusBus
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	publisher, err := rabbitmq.NewPublisher(conn, cfg.QueueName)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init rabbitmq publisher: %w", err)
	}

	notifier := services.NewNopNotifier()
	var statusBus redis.StatusBus
	if cfg.RedisAddr != "" {
		statusBus, err = redis.NewStatusBus(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init redis status bus: %w", err)
		}
		notifier = services.NewRequestNotifier(log, statusBus)
	}

	source := youtube.NewClient(log, newYouTubeHTTPClient(cfg.YouTubeProxyURL))

	newReasoningClient := func(apiKey string) (quizgen.ReasoningClient, error) {
		return openai.NewClient(log, openai.Config{
			APIKey:     apiKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIModel,
			EmbedModel: cfg.OpenAIEmbedModel,
			MaxRetries: 3,
		})
	}

	requestRepo := repos.NewQuizRequestRepo(theDB, log)
	store := services.NewCollectionStore(theDB, log)
	pipeline := quizgen.NewPipeline(log, source, store, newReasoningClient, cfg.DefaultOpenAIKey)
	requestSvc := services.NewRequestService(log, requestRepo, pipeline, publisher, notifier, cfg.PipelineTimeout)

	consumer, err := rabbitmq.NewConsumer(log, conn, cfg.QueueName, requestSvc.Process)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init rabbitmq consumer: %w", err)
	}

	return &App{
		Log:       log,
		DB:        theDB,
		Cfg:       cfg,
		Requests:  requestSvc,
		amqpConn:  conn,
		consumer:  consumer,
		publisher: publisher,
		statusBus: statusBus,
	}, nil
}

// Run consumes quiz requests until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.consumer == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.consumer.Start(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.amqpConn != nil {
		_ = a.amqpConn.Close()
	}
	if a.statusBus != nil {
		_ = a.statusBus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// newYouTubeHTTPClient routes transcript fetches through an optional HTTP
// proxy; YouTube throttles datacenter IPs aggressively.
func newYouTubeHTTPClient(proxyURL string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}
