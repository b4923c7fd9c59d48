package seed

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	appModels "github.com/yigit/coursechat/internal/app/models"
	appRepos "github.com/yigit/coursechat/internal/app/repositories"
)

// DemoChannelID is the channel CreateDefaultData fills
const DemoChannelID = "general"

var demoStaff = appModels.Sender{ID: "staff", Name: "Course Staff", Role: appModels.RoleInstructor}

var demoMessages = []struct {
	tempID  string
	content string
}{
	{"seed-welcome", "Welcome to the course channel!"},
	{"seed-rules", "Please keep questions about assignments in this channel so everyone benefits."},
	{"seed-hours", "Office hours are listed on the syllabus page."},
}

// CreateDefaultData posts the demo welcome messages to DemoChannelID if they are not
// there yet. Every message carries a fixed tempId, so running it again is a no-op.
func CreateDefaultData(ctx context.Context, chatRepo appRepos.ChatRepository, lgr zerolog.Logger) error {
	lgr.Info().Str("channelID", DemoChannelID).Msg("Checking/Creating demo chat messages...")
	var finalErr error // To collect potential errors without stopping the process

	start := time.Now().UTC().Add(-time.Duration(len(demoMessages)) * time.Minute)
	for i, dm := range demoMessages {
		message := &appModels.Message{
			ID:         uuid.New().String(),
			TempID:     dm.tempID,
			ChannelID:  DemoChannelID,
			SenderID:   demoStaff.ID,
			SenderName: demoStaff.Name,
			SenderRole: demoStaff.Role,
			Kind:       appModels.MessageKindText,
			Content:    dm.content,
			CreatedAt:  start.Add(time.Duration(i) * time.Minute),
		}

		_, created, err := chatRepo.Create(ctx, message)
		if err != nil {
			lgr.Error().Err(err).Str("tempID", dm.tempID).Msg("Error creating demo message")
			finalErr = errors.Join(finalErr, err)
			continue
		}
		if created {
			lgr.Info().Str("tempID", dm.tempID).Msg("Demo message created.")
		}
	}

	if finalErr != nil {
		lgr.Warn().Err(finalErr).Msg("Finished creating demo data with some errors.")
	} else {
		lgr.Info().Msg("Demo data check/creation finished.")
	}
	return finalErr
}
