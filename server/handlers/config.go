package handlers

import (
	"log/slog"
	"net/http"

	"gopkg.in/yaml.v3"
)

// ConfigHandler serves the running configuration as YAML with credentials
// redacted. A ?section= query narrows the output to one top-level block,
// e.g. ?section=coordinator.
type ConfigHandler struct {
	logger         *slog.Logger
	configProvider ConfigProvider
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(logger *slog.Logger, provider ConfigProvider) *ConfigHandler {
	return &ConfigHandler{
		logger:         logger,
		configProvider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var doc yaml.Node
	if err := doc.Encode(h.configProvider.Config().Redacted()); err != nil {
		h.logger.Error("failed to encode configuration", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to encode configuration")
		return
	}

	out := &doc
	if section := r.URL.Query().Get("section"); section != "" {
		if out = lookupSection(&doc, section); out == nil {
			writeError(w, http.StatusNotFound, "unknown config section: "+section)
			return
		}
	}

	w.Header().Set("Content-Type", "text/yaml")
	w.WriteHeader(http.StatusOK)
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(out); err != nil {
		h.logger.Error("failed to write configuration", "error", err)
	}
}

func lookupSection(doc *yaml.Node, name string) *yaml.Node {
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == name {
			return doc.Content[i+1]
		}
	}
	return nil
}
