package handler

import (
	"sketchroom/internal/app/game"
	"sketchroom/internal/configs"
)

type AppDeps struct {
	Manager *game.Manager
	Config  *configs.AppConfig
	Store   game.Store
}
