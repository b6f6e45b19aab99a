package localcloud

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateTodoRequest represents a request to add a todo
type CreateTodoRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) listTodos(c *gin.Context) {
	user, _ := currentUser(c)

	query := s.db.Where("owner_id = ?", user.ID).Order("created_at DESC")

	if doneParam := c.Query("done"); doneParam != "" {
		done, err := strconv.ParseBool(doneParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "done must be true or false"})
			return
		}
		query = query.Where("done = ?", done)
	}

	if q := c.Query("q"); q != "" {
		query = query.Where("content LIKE ?", "%"+q+"%")
	}

	todos := make([]Todo, 0)
	if err := query.Find(&todos).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to list todos")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, todos)
}

func (s *Server) createTodo(c *gin.Context) {
	user, _ := currentUser(c)

	var req CreateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	todo := &Todo{
		OwnerID: user.ID,
		Content: req.Content,
	}

	if err := s.db.Create(todo).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to create todo")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create todo"})
		return
	}

	s.hub.Broadcast(user.ID, Event{Type: EventCreated, Todo: *todo})

	c.JSON(http.StatusCreated, todo)
}

func (s *Server) toggleTodo(c *gin.Context) {
	user, _ := currentUser(c)
	todoID := c.Param("id")

	todo, ok := s.findTodo(c, user.ID, todoID)
	if !ok {
		return
	}

	if err := s.db.Model(todo).Update("done", !todo.Done).Error; err != nil {
		s.logger.Error().Err(err).Str("todo_id", todo.ID).Msg("Failed to toggle todo")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update todo"})
		return
	}

	s.hub.Broadcast(user.ID, Event{Type: EventUpdated, Todo: *todo})

	c.JSON(http.StatusOK, todo)
}

func (s *Server) deleteTodo(c *gin.Context) {
	user, _ := currentUser(c)
	todoID := c.Param("id")

	todo, ok := s.findTodo(c, user.ID, todoID)
	if !ok {
		return
	}

	if err := s.db.Delete(todo).Error; err != nil {
		s.logger.Error().Err(err).Str("todo_id", todo.ID).Msg("Failed to delete todo")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete todo"})
		return
	}

	s.hub.Broadcast(user.ID, Event{Type: EventDeleted, Todo: *todo})

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) observeTodos(c *gin.Context) {
	user, _ := currentUser(c)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to upgrade observe connection")
		return
	}

	s.hub.Register(user.ID, conn)
	defer s.hub.Unregister(user.ID, conn)

	s.logger.Debug().Str("user_id", user.ID).Msg("Observer connected")

	// Observers never send data; the read loop just notices the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.logger.Debug().Str("user_id", user.ID).Msg("Observer disconnected")
}

// findTodo loads an owned todo or writes the TODO_NOT_FOUND response
func (s *Server) findTodo(c *gin.Context, ownerID, todoID string) (*Todo, bool) {
	var todo Todo
	err := s.db.Where("id = ? AND owner_id = ?", todoID, ownerID).First(&todo).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			apiError(c, http.StatusNotFound, "TODO_NOT_FOUND", "Todo not found")
			return nil, false
		}
		s.logger.Error().Err(err).Str("todo_id", todoID).Msg("Failed to find todo")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return nil, false
	}
	return &todo, true
}
