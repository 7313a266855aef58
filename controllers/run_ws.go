package controller

import (
	"log"
	"time"

	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	"leadflow/models"
)

// HandleRunProgressWS streams a sequence run's progress to the admin UI.
// The client sends {"run_id": N} once; the server pushes the run state on
// every change until the run leaves the active state.
func HandleRunProgressWS(db *gorm.DB) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		var input struct {
			RunID uint `json:"run_id"`
		}
		if err := c.ReadJSON(&input); err != nil {
			log.Printf("Error reading run progress request: %v", err)
			return
		}

		lastVersion := -1
		for {
			var run models.SequenceRun
			if err := db.Preload("Steps").First(&run, input.RunID).Error; err != nil {
				_ = c.WriteJSON(map[string]string{"error": "run not found"})
				return
			}

			if run.Version != lastVersion {
				lastVersion = run.Version
				progress := struct {
					Status      string                   `json:"status"`
					CurrentStep int                      `json:"current_step"`
					NextDueAt   *time.Time               `json:"next_due_at"`
					Steps       []models.SequenceRunStep `json:"steps"`
				}{
					Status:      run.Status,
					CurrentStep: run.CurrentStep,
					NextDueAt:   run.NextDueAt,
					Steps:       run.Steps,
				}
				if err := c.WriteJSON(progress); err != nil {
					log.Printf("Error writing run progress: %v", err)
					return
				}
			}

			if run.Status != models.RunStatusActive {
				return
			}
			time.Sleep(2 * time.Second)
		}
	}
}
