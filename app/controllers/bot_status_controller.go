package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sutto4/ccc-sub004/internal/pkg/botstatus"
	"github.com/sutto4/ccc-sub004/internal/pkg/statistics"
)

// BotStatusController serves the bot heartbeat board and console statistics.
type BotStatusController struct {
	board *botstatus.Board
	stats *statistics.Service
}

func NewBotStatusController(board *botstatus.Board, stats *statistics.Service) *BotStatusController {
	return &BotStatusController{board: board, stats: stats}
}

type appendLogRequest struct {
	Level   string `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Message string `json:"message" validate:"required,max=2000"`
}

func (bc *BotStatusController) HandleHeartbeat(c *fiber.Ctx) error {
	var hb botstatus.Heartbeat
	if err := bindJSON(c, &hb); err != nil {
		return respondError(c, err)
	}
	bc.board.RecordHeartbeat(hb)
	return c.SendStatus(fiber.StatusNoContent)
}

func (bc *BotStatusController) HandleAppendLog(c *fiber.Ctx) error {
	var req appendLogRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	bc.board.AppendLog(req.Level, req.Message)
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleStatus returns the latest heartbeat and up to ?lines= log lines.
func (bc *BotStatusController) HandleStatus(c *fiber.Ctx) error {
	lines, err := queryInt(c, "lines", 0)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(bc.board.Snapshot(lines))
}

// HandleStatistics returns cached console-wide counts.
func (bc *BotStatusController) HandleStatistics(c *fiber.Ctx) error {
	data, err := bc.stats.Get(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(data)
}
