package app

import (
	"context"

	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/database"
)

func (app *App) initializeStorage(ctx context.Context) error {
	dbConfig := database.Config{
		Type: app.Config.DatabaseType,
		Path: app.Config.DatabasePath,
		URL:  app.Config.DatabaseURL,
	}

	db, err := database.Open(ctx, dbConfig)
	if err != nil {
		return err
	}

	app.DB = db
	app.Logger.Info("Token store: Connected", logging.String("dialect", string(db.Dialect)))
	return nil
}
