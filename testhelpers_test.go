//go:build integration

package main_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/storefront/service-coupon/internal/adapter"
	"github.com/storefront/service-coupon/internal/application"
	"github.com/storefront/service-coupon/internal/contracts"
	"github.com/storefront/service-coupon/internal/domain/coupon"
	couponEvents "github.com/storefront/service-coupon/internal/events"
	"github.com/storefront/service-coupon/internal/metrics"
	"github.com/storefront/service-coupon/internal/platform/database"
	"github.com/storefront/service-coupon/internal/platform/kafka"
	"github.com/storefront/service-coupon/internal/repository"
	"github.com/storefront/service-coupon/migrations"
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	KafkaBrokers []string
	Cleanup      func()
}

// couponStack holds wired-up coupon service components.
type couponStack struct {
	Issuance        *application.IssuanceService
	Redemption      *application.RedemptionService
	Admin           *application.CouponAdminService
	Consumer        *couponEvents.PaymentEventConsumer
	Metrics         *metrics.Metrics
	CleanupProducer func()
}

// setupPostgres starts a PostgreSQL testcontainer, applies the embedded
// migrations and creates the tables owned by neighbouring services.
func setupPostgres(t *testing.T) (*gorm.DB, func()) {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	// Start PostgreSQL container with log-based wait strategy.
	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_coupon",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := database.PostgresConfig{
		Host:     pgHost,
		Port:     pgPort.Port(),
		User:     "test",
		Password: "test",
		DBName:   "test_coupon",
		SSLMode:  "disable",
	}

	db, err := database.Connect(cfg, logger)
	require.NoError(t, err, "PostgreSQL not ready for connections")

	require.NoError(t, database.RunMigrations(cfg.DatabaseURL(), migrations.Files, logger))
	require.NoError(t, db.AutoMigrate(&repository.UserModel{}, &repository.SessionModel{}, &repository.ProductModel{}))

	cleanup := func() {
		_ = database.Close(db)
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}
	return db, cleanup
}

// setupContainers starts PostgreSQL and Kafka testcontainers.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()

	db, pgCleanup := setupPostgres(t)

	// Start Kafka container using confluent-local (supports KRaft natively).
	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	// Pre-create required topics.
	createTopics(t, kafkaBrokers,
		contracts.TopicPaymentEvents, contracts.TopicPaymentEventsDLT, contracts.TopicNotificationEvents)

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		pgCleanup()
	}

	return &testInfra{
		DB:           db,
		KafkaBrokers: kafkaBrokers,
		Cleanup:      cleanup,
	}
}

// setupCouponStack wires up the coupon services. With no brokers the
// notifier logs instead of publishing and no consumer is created.
func setupCouponStack(t *testing.T, db *gorm.DB, brokers []string) *couponStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	m := metrics.New(prometheus.NewRegistry())
	retrier := database.NewRetrier(database.DefaultPolicy(), logger, database.WithObserver(m.RetryObserver()))

	templates := repository.NewTemplateRepository(db, retrier)
	instances := repository.NewInstanceRepository(db, retrier)
	users := repository.NewUserDirectory(db, retrier)
	sessions := repository.NewSessionDirectory(db, retrier)
	products := repository.NewProductDirectory(db, retrier)

	stack := &couponStack{Metrics: m, CleanupProducer: func() {}}

	var notifier adapter.Notifier = adapter.NewLogNotifier(logger)
	var producer *kafka.Producer
	if len(brokers) > 0 {
		producer = kafka.NewProducer(brokers, logger)
		notifier = adapter.NewKafkaNotifier(producer, logger)
		stack.CleanupProducer = func() { _ = producer.Close() }
	}

	stack.Issuance = application.NewIssuanceService(templates, instances, users, sessions,
		coupon.NewRandomCodeGenerator(coupon.DefaultCodeLength), notifier, m,
		application.DefaultIssuanceConfig(), logger)
	stack.Redemption = application.NewRedemptionService(templates, instances, products, m, logger)
	stack.Admin = application.NewCouponAdminService(templates, instances, users, logger)

	if producer != nil {
		groupID := fmt.Sprintf("test-coupon-%s", uuid.New().String()[:8])
		stack.Consumer = couponEvents.NewPaymentEventConsumer(brokers, groupID, stack.Issuance, producer, logger)
	}
	return stack
}

// seedTemplate inserts an active template sold at priceCents.
func seedTemplate(t *testing.T, db *gorm.DB, percent int, priceCents int64, maxUses int) *coupon.Template {
	t.Helper()
	tmpl, err := coupon.NewTemplate(coupon.KindBasic, percent, priceCents, nil, nil, maxUses, "integration")
	require.NoError(t, err)
	model := repository.ToTemplateModel(tmpl)
	require.NoError(t, db.Create(&model).Error, "failed to seed template")
	return tmpl
}

// seedRestriction adds a category restriction to a template.
func seedRestriction(t *testing.T, db *gorm.DB, templateID uuid.UUID, kind coupon.RestrictionKind, category string) {
	t.Helper()
	require.NoError(t, db.Create(&repository.RestrictionModel{
		ID: uuid.New(), TemplateID: templateID, CategoryID: category, Kind: string(kind),
	}).Error)
}

// seedUser inserts a registered user.
func seedUser(t *testing.T, db *gorm.DB, email string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, db.Create(&repository.UserModel{ID: id, Email: email}).Error, "failed to seed user")
	return id
}

// seedSession inserts a session last seen at lastSeen.
func seedSession(t *testing.T, db *gorm.DB, userID uuid.UUID, lastSeen time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&repository.SessionModel{ID: uuid.New(), UserID: userID, LastSeenAt: lastSeen}).Error)
}

// seedProduct inserts a product in category.
func seedProduct(t *testing.T, db *gorm.DB, category string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, db.Create(&repository.ProductModel{ID: id, CategoryID: &category}).Error)
	return id
}

// publishTestEvent publishes a CloudEvent to Kafka.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType string, data interface{}) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := kafka.NewProducer(brokers, logger)
	defer func() { _ = producer.Close() }()

	ce, err := kafka.NewCloudEvent(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")

	err = producer.PublishEvent(context.Background(), topic, ce)
	require.NoError(t, err, "failed to publish event")
}

// waitForInstance polls coupon_instances until the payment has a coupon.
func waitForInstance(t *testing.T, db *gorm.DB, externalPaymentID string, timeout time.Duration) repository.InstanceModel {
	t.Helper()
	var result repository.InstanceModel
	require.Eventually(t, func() bool {
		var model repository.InstanceModel
		if err := db.Where("external_payment_id = ?", externalPaymentID).First(&model).Error; err != nil {
			return false
		}
		result = model
		return true
	}, timeout, 200*time.Millisecond, "no coupon issued for payment %s", externalPaymentID)
	return result
}

// consumeOneEvent reads from a Kafka topic until it finds an event of the expected type.
func consumeOneEvent(t *testing.T, brokers []string, topic, expectedType string, timeout time.Duration) kafka.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q on topic %q", expectedType, topic)
			}
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if ce.Type == expectedType {
			return ce
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
