package api

import (
	"context"
	"encoding/json"
	"net/http"

	"edgehost/pkg/endpoint"
	"edgehost/pkg/models"

	"github.com/gin-gonic/gin"
)

// Host is the part of the host manager the API drives. *host.Manager satisfies it.
type Host interface {
	Registry() *endpoint.Registry
	Create(ctx context.Context, spec models.EndpointSpec) (endpoint.Endpoint, error)
	Get(name string) (endpoint.Endpoint, error)
	List() []endpoint.Endpoint
	Remove(ctx context.Context, name string) endpoint.Result
	Purge(ctx context.Context, name string) endpoint.Result
	Start(ctx context.Context, name string) endpoint.Result
	Stop(ctx context.Context, name string, mode endpoint.StopMode) endpoint.Result
	Restart(ctx context.Context, name string, mode endpoint.StopMode) endpoint.Result
	ConfigureJSON(ctx context.Context, name string, data []byte) endpoint.Result
	ConfigureFromStore(ctx context.Context, name string) endpoint.Result
	SaveConfiguration(ctx context.Context, name string) endpoint.Result
	Send(ctx context.Context, name string, value any) endpoint.Result
}

// EndpointView is the JSON representation of an instance.
type EndpointView struct {
	endpoint.Metadata
	Fingerprint string         `json:"fingerprint"`
	State       endpoint.State `json:"state"`
	Configured  bool           `json:"configured"`
}

// TypeView is the JSON representation of a registered endpoint type.
type TypeView struct {
	TypeID string `json:"type_id"`
	Name   string `json:"name"`
	Model  string `json:"model"`
}

// DefinitionView is the JSON representation of a configuration definition.
type DefinitionView struct {
	Form   string `json:"form"`
	Schema string `json:"schema"`
	Model  string `json:"model"`
}

func newEndpointView(ep endpoint.Endpoint) EndpointView {
	_, configured := ep.Configuration()
	return EndpointView{
		Metadata:    ep.Metadata(),
		Fingerprint: ep.Fingerprint(),
		State:       ep.State(),
		Configured:  configured,
	}
}

// EndpointHandler serves the type registry and the endpoint instances of a host.
type EndpointHandler struct {
	host Host
}

func NewEndpointHandler(host Host) *EndpointHandler {
	return &EndpointHandler{host: host}
}

// ListTypes returns every registered endpoint type
func (h *EndpointHandler) ListTypes(c *gin.Context) {
	registry := h.host.Registry()
	views := make([]TypeView, 0)
	for _, id := range registry.Types() {
		desc, err := registry.Lookup(id)
		if err != nil {
			continue
		}
		views = append(views, TypeView{TypeID: desc.TypeID, Name: desc.Name, Model: desc.Definition.ModelName()})
	}
	c.JSON(http.StatusOK, views)
}

// GetDefinition returns the configuration definition of a type
func (h *EndpointHandler) GetDefinition(c *gin.Context) {
	def, err := h.host.Registry().ConfigurationDefinition(c.Param("type"))
	if err != nil {
		respondFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, DefinitionView{Form: def.Form, Schema: def.Schema, Model: def.ModelName()})
}

// GetDefault returns the default configuration of a type
func (h *EndpointHandler) GetDefault(c *gin.Context) {
	cfg, err := h.host.Registry().DefaultConfiguration(c.Param("type"))
	if err != nil {
		respondFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// List returns all instances
func (h *EndpointHandler) List(c *gin.Context) {
	endpoints := h.host.List()
	views := make([]EndpointView, 0, len(endpoints))
	for _, ep := range endpoints {
		views = append(views, newEndpointView(ep))
	}
	c.JSON(http.StatusOK, views)
}

// Get returns a single instance
func (h *EndpointHandler) Get(c *gin.Context) {
	ep, err := h.host.Get(c.Param("name"))
	if err != nil {
		respondFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, newEndpointView(ep))
}

// Create creates a new instance from a spec
func (h *EndpointHandler) Create(c *gin.Context) {
	var spec models.EndpointSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	ep, err := h.host.Create(c.Request.Context(), spec)
	if err != nil {
		respondFailure(c, err)
		return
	}
	c.JSON(http.StatusCreated, newEndpointView(ep))
}

// Delete stops and removes an instance; purge=true also deletes its stored configuration
func (h *EndpointHandler) Delete(c *gin.Context) {
	remove := h.host.Remove
	if c.Query("purge") == "true" {
		remove = h.host.Purge
	}
	if err := remove(c.Request.Context(), c.Param("name")).Err(); err != nil {
		respondFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// Start starts an instance
func (h *EndpointHandler) Start(c *gin.Context) {
	name := c.Param("name")
	h.respondResult(c, name, h.host.Start(c.Request.Context(), name))
}

// Stop stops an instance; mode=restart adds the restart flag
func (h *EndpointHandler) Stop(c *gin.Context) {
	mode := endpoint.StopModeStop
	switch c.Query("mode") {
	case "", "stop":
	case "restart":
		mode |= endpoint.StopModeRestart
	default:
		respondError(c, http.StatusBadRequest, "invalid stop mode")
		return
	}

	name := c.Param("name")
	h.respondResult(c, name, h.host.Stop(c.Request.Context(), name, mode))
}

// Restart runs a start followed by a restart-flagged stop
func (h *EndpointHandler) Restart(c *gin.Context) {
	name := c.Param("name")
	h.respondResult(c, name, h.host.Restart(c.Request.Context(), name, endpoint.StopModeStop))
}

// GetConfiguration returns the current configuration of an instance
func (h *EndpointHandler) GetConfiguration(c *gin.Context) {
	ep, err := h.host.Get(c.Param("name"))
	if err != nil {
		respondFailure(c, err)
		return
	}
	cfg, ok := ep.Configuration()
	if !ok {
		respondError(c, http.StatusNotFound, "endpoint is not configured")
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// PutConfiguration replaces the configuration of an instance
func (h *EndpointHandler) PutConfiguration(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	name := c.Param("name")
	if err := h.host.ConfigureJSON(c.Request.Context(), name, body).Err(); err != nil {
		respondFailure(c, err)
		return
	}
	h.GetConfiguration(c)
}

// ReloadConfiguration re-applies the stored configuration of an instance
func (h *EndpointHandler) ReloadConfiguration(c *gin.Context) {
	name := c.Param("name")
	if err := h.host.ConfigureFromStore(c.Request.Context(), name).Err(); err != nil {
		respondFailure(c, err)
		return
	}
	h.GetConfiguration(c)
}

// SaveConfiguration persists the current configuration of an instance
func (h *EndpointHandler) SaveConfiguration(c *gin.Context) {
	if err := h.host.SaveConfiguration(c.Request.Context(), c.Param("name")).Err(); err != nil {
		respondFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "saved"})
}

// Send hands an arbitrary JSON value to an instance
func (h *EndpointHandler) Send(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		respondError(c, http.StatusBadRequest, "body must be a JSON value")
		return
	}

	if err := h.host.Send(c.Request.Context(), c.Param("name"), value).Err(); err != nil {
		respondFailure(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "sent"})
}

func (h *EndpointHandler) respondResult(c *gin.Context, name string, result endpoint.Result) {
	if err := result.Err(); err != nil {
		respondFailure(c, err)
		return
	}
	ep, err := h.host.Get(name)
	if err != nil {
		respondFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, newEndpointView(ep))
}
