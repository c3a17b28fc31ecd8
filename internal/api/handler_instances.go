package api

import (
	"github.com/labstack/echo/v4"
	"github.com/tqchen/yarn-ec2/internal/catalog"
)

// InstanceHandler serves the instance catalog
type InstanceHandler struct {
	registry *catalog.Registry
}

// NewInstanceHandler creates a new instance handler
func NewInstanceHandler(registry *catalog.Registry) *InstanceHandler {
	return &InstanceHandler{
		registry: registry,
	}
}

// InstanceResponse represents an instance class in API responses
type InstanceResponse struct {
	*catalog.InstanceSpec
	MemoryMiB int `json:"memory_mib"`
}

func toInstanceResponse(spec *catalog.InstanceSpec) *InstanceResponse {
	return &InstanceResponse{
		InstanceSpec: spec,
		MemoryMiB:    spec.MemoryMiB(),
	}
}

// List handles GET /api/v1/instances
func (h *InstanceHandler) List(c echo.Context) error {
	specs := h.registry.List()

	response := make([]*InstanceResponse, len(specs))
	for i, spec := range specs {
		response[i] = toInstanceResponse(spec)
	}

	return SuccessList(c, response, len(response))
}

// Get handles GET /api/v1/instances/:name
func (h *InstanceHandler) Get(c echo.Context) error {
	spec, err := h.registry.Get(c.Param("name"))
	if err != nil {
		return ErrorNotFound(c, "Instance class not found: "+err.Error())
	}

	return SuccessOK(c, toInstanceResponse(spec))
}
