// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/imxlabs/nutria/services/orchestrator/handlers"
	"github.com/imxlabs/nutria/services/orchestrator/observability"
	"github.com/imxlabs/nutria/services/orchestrator/prompt"
	"github.com/imxlabs/nutria/services/orchestrator/qlog"
	"github.com/imxlabs/nutria/services/orchestrator/retrieval"
	"github.com/imxlabs/nutria/services/orchestrator/routes"
	"github.com/imxlabs/nutria/services/orchestrator/services"
	"github.com/imxlabs/nutria/services/orchestrator/session"
	"github.com/imxlabs/nutria/services/refusal"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "nutria-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("nutria-orchestrator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient builds the vector index client, or nil when the URL is
// missing or unusable. A nil client puts retrieval in degraded mode: queries
// still stream, with a diagnostic instead of an answer.
func newWeaviateClient() *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Warn("WEAVIATE_SERVICE_URL not set. Running without the vector index.")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Running without the vector index.",
			"url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create the Weaviate client", "error", err)
		return nil
	}
	return client
}

// sessionTTL reads SESSION_TTL (a Go duration string) with a two hour
// default.
func sessionTTL() time.Duration {
	raw := os.Getenv("SESSION_TTL")
	if raw == "" {
		return session.DefaultTTL
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		slog.Warn("SESSION_TTL is invalid, using the default", "value", raw)
		return session.DefaultTTL
	}
	return ttl
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using the process environment")
	}

	port := os.Getenv("ORCHESTRATOR_PORT")
	if port == "" {
		port = "12210"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	// The risk gate and the prompt templates ship inside the binary; failing
	// to load either means the build is broken.
	gate, err := refusal.NewEngine()
	if err != nil {
		log.Fatalf("FATAL: Could not initialize the risk gate: %v", err)
	}
	assembler, err := prompt.NewAssembler()
	if err != nil {
		log.Fatalf("FATAL: Could not load the prompt templates: %v", err)
	}
	slog.Info("Generation backend selected",
		"supplier", assembler.ModelConfig().Supplier,
		"model", assembler.ModelConfig().Name)

	var embedder retrieval.Embedder
	var searcher retrieval.Searcher
	if client := newWeaviateClient(); client != nil {
		openaiEmbedder, err := retrieval.NewOpenAIEmbedder()
		if err != nil {
			slog.Error("Failed to create the embedder, retrieval disabled", "error", err)
		} else {
			embedder = openaiEmbedder
			searcher = retrieval.NewWeaviateSearcher(client)
		}
	}
	retriever := retrieval.NewEngine(embedder, searcher)

	store := session.NewMemoryStore(sessionTTL())
	defer store.Close()

	questionLog := qlog.NewLog(os.Getenv("QUESTION_LOG_PATH"))

	ingestionURL := os.Getenv("INGESTION_SERVICE_URL")
	if ingestionURL == "" {
		ingestionURL = "http://nutria-ingestion:12220"
		slog.Warn("INGESTION_SERVICE_URL not set, using the default", "url", ingestionURL)
	}

	queryService := services.NewQueryService(gate, retriever, assembler, store, questionLog, metrics)

	router := gin.Default()
	router.Use(otelgin.Middleware("nutria-orchestrator"))

	routes.SetupRoutes(router, routes.Deps{
		Query:     queryService,
		Sessions:  store,
		Retriever: retriever,
		Log:       questionLog,
		Ingester:  handlers.NewHTTPIngester(ingestionURL),
		Metrics:   metrics,
	})

	log.Println("Starting the orchestrator server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
