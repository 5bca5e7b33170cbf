// Package httpapi exposes the data services over HTTP.
package httpapi

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/rpattn/studyclips/internal/cache"
	"github.com/rpattn/studyclips/internal/ingestion"
	"github.com/rpattn/studyclips/internal/logger"
	"github.com/rpattn/studyclips/internal/repository"
	"github.com/rpattn/studyclips/internal/retrieval"
	"github.com/rpattn/studyclips/internal/roleloader"
)

// Deps are the services the routes dispatch to.
type Deps struct {
	Retrieval *retrieval.Service
	Ingestion *ingestion.Service
	// Cache streams cached artifacts; nil disables downloads.
	Cache *cache.Cache
	// Roles backs the per-request role loader; nil disables batching.
	Roles          repository.RoleRepository
	Log            logger.Logger
	AllowedOrigins []string
}

// NewHandler builds the API handler:
//
//	POST /api/data/upload   JSON clips or a multipart CSV/XLSX file
//	POST /api/data/query    fetch, version and aggregate data
//	POST /api/data/delete   append a deletion tombstone
//	POST /api/study/fields  list readable field definitions
//	GET  /api/data/summary  count stored clips
func NewHandler(deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = logger.NewNoopLogger()
	}
	api := &api{retrieval: deps.Retrieval, ingestion: deps.Ingestion, cache: deps.Cache, log: log}

	mux := http.NewServeMux()
	mux.Handle("/api/data/upload", ingestion.NewHTTPHandler(deps.Ingestion))
	mux.HandleFunc("/api/data/query", api.handleQuery)
	mux.HandleFunc("/api/data/delete", api.handleDelete)
	mux.HandleFunc("/api/data/summary", api.handleSummary)
	mux.HandleFunc("/api/study/fields", api.handleFields)

	var handler http.Handler = mux
	if deps.Roles != nil {
		handler = roleloader.Middleware(deps.Roles)(handler)
	}
	handler = LoggingMiddleware(log)(handler)
	handler = RequesterMiddleware(handler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})
	return corsHandler.Handler(handler)
}
