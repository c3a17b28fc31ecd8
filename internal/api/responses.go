package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListResponse wraps a list with its size
type ListResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

// SuccessOK returns a 200 OK response
func SuccessOK(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, data)
}

// SuccessList returns a 200 OK list response
func SuccessList(c echo.Context, data interface{}, total int) error {
	return c.JSON(http.StatusOK, &ListResponse{
		Data:  data,
		Total: total,
	})
}
