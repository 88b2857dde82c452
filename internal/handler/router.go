package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"keyset-lifecycle-service/internal/middleware"
)

// NewRouter はルーターを生成する。
func NewRouter(h *KeysetHandler) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// ルート定義
	r.Post("/v1/namespaces", h.CreateNamespace)
	r.Get("/v1/namespaces/{namespace_id}", h.GetNamespace)
	r.Route("/v1/namespaces/{namespace_id}/keysets", func(r chi.Router) {
		r.Get("/", h.ListKeysets)
		r.Post("/", h.CreateKeyset)
		r.Route("/{keyset_id}", func(r chi.Router) {
			r.Get("/", h.GetKeyset)
			r.Patch("/", h.UpdateKeyset)
			r.Delete("/", h.DeleteKeyset)
			r.Post("/transition", h.TransitionKeyset)
			r.Post("/rotate", h.RotateKeyset)
			r.Get("/public", h.GetPublicKeyset)
			r.Post("/encrypt", h.Encrypt)
			r.Post("/decrypt", h.Decrypt)
			r.Post("/encrypt-deterministic", h.EncryptDeterministic)
			r.Post("/decrypt-deterministic", h.DecryptDeterministic)
			r.Post("/mac", h.ComputeMAC)
			r.Post("/mac/verify", h.VerifyMAC)
			r.Post("/sign", h.Sign)
			r.Post("/verify", h.Verify)
		})
	})

	return otelhttp.NewHandler(r, "keyset-lifecycle-service")
}
