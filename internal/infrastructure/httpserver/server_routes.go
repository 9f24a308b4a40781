package httpserver

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", s.metricsEndpoint)

	api := s.echo.Group("/api/v1")

	progress := api.Group("/progress")
	progress.GET("/orders/:list", s.getOrder)
	progress.PUT("/orders/:list", s.saveOrder)
	progress.GET("/counts", s.countsByPrefix)
	progress.GET("/counts/:key", s.getCount)
	progress.POST("/counts/:key/increment", s.incrementCount)
}
