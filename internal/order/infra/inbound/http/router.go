package http

import "github.com/gin-gonic/gin"

// RegisterOrderRoutes registra las rutas HTTP del dominio de Pedidos.
func RegisterOrderRoutes(r *gin.Engine, handler *OrderHandler) {
	orders := r.Group("/orders")
	{
		orders.POST("/:id/commands", handler.ExecuteCommand) // Ejecutar un comando sobre el pedido
		orders.GET("/:id", handler.GetOrder)                 // Estado actual por replay
	}
}

// RegisterOutboxRoutes registra la superficie de operador del outbox.
func RegisterOutboxRoutes(r *gin.Engine, handler *OutboxHandler) {
	outbox := r.Group("/outbox")
	{
		outbox.GET("/failed", handler.ListFailed)
		outbox.POST("/:id/requeue", handler.Requeue)
	}
}

// RegisterDeliveryStatsRoutes sólo se registra cuando hay auditoría de entregas.
func RegisterDeliveryStatsRoutes(r *gin.Engine, handler *DeliveryStatsHandler) {
	r.GET("/outbox/stats", handler.Stats)
}
