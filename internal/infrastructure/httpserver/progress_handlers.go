package httpserver

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/avatarctic/imitation-player/internal/core/domain/progress"
)

type orderResponse struct {
	List string   `json:"list"`
	IDs  []string `json:"ids"`
}

type saveOrderRequest struct {
	IDs []string `json:"ids"`
}

type countResponse struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type countsResponse struct {
	Prefix    string         `json:"prefix"`
	Counts    map[string]int `json:"counts"`
	Practiced int            `json:"practiced"`
}

// pathParam returns the unescaped route parameter name.
func pathParam(c echo.Context, name string) (string, error) {
	v, err := url.PathUnescape(c.Param(name))
	if err != nil || v == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}

func (s *Server) getOrder(c echo.Context) error {
	list, err := pathParam(c, "list")
	if err != nil {
		return err
	}
	ids, _ := s.progress.GetOrder(c.Request().Context(), list)
	return c.JSON(http.StatusOK, orderResponse{List: list, IDs: ids})
}

func (s *Server) saveOrder(c echo.Context) error {
	list, err := pathParam(c, "list")
	if err != nil {
		return err
	}
	var req saveOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	s.progress.SaveOrder(c.Request().Context(), list, req.IDs)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getCount(c echo.Context) error {
	key, err := pathParam(c, "key")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, countResponse{Key: key, Count: s.progress.GetCount(c.Request().Context(), key)})
}

func (s *Server) incrementCount(c echo.Context) error {
	key, err := pathParam(c, "key")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, countResponse{Key: key, Count: s.progress.IncrementCount(c.Request().Context(), key)})
}

func (s *Server) countsByPrefix(c echo.Context) error {
	prefix := progress.TrimCountPrefix(c.QueryParam("prefix"))
	resp := countsResponse{Prefix: prefix, Counts: map[string]int{}}
	for key, count := range s.progress.CountsByPrefix(c.Request().Context(), prefix) {
		resp.Counts[key] = count
		if count > 0 {
			resp.Practiced++
		}
	}
	return c.JSON(http.StatusOK, resp)
}
