package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tutorhub/pkg/domain"
)

const (
	recentAttemptsLimit   = 20
	recentForumPostsLimit = 10
)

// ContextOptions carries caller-supplied extension data for one chat turn.
// The list fields let the caller inject upcoming events, personal notes and
// open assignments the backend has no feed for.
type ContextOptions struct {
	CurrentModuleID        string
	CurrentLessonID        string
	CalendarEvents         []string
	Notes                  []string
	Assignments            []string
	AdditionalInstructions string
}

// LearningContext is the per-user snapshot rendered into run instructions.
// Only data belonging to the requesting user is ever included.
type LearningContext struct {
	User       domain.User
	Options    ContextOptions
	Progress   []domain.ProgressRecord
	Attempts   []domain.AssessmentAttempt
	Achieved   []domain.Achievement
	ForumPosts []domain.ForumPost
}

// GatherContext loads each learning feed independently. A failing source is
// logged and leaves its section empty; it never fails the whole gather.
func (a *App) GatherContext(ctx context.Context, user domain.User, opts ContextOptions) LearningContext {
	lc := LearningContext{User: user, Options: opts}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		progress, err := a.store.ListProgress(user.ID)
		if err != nil {
			slog.Warn("gather progress failed", "userId", user.ID, "error", err)
			return nil
		}
		lc.Progress = progress
		return nil
	})
	g.Go(func() error {
		attempts, err := a.store.ListRecentAssessmentAttempts(user.ID, recentAttemptsLimit)
		if err != nil {
			slog.Warn("gather assessment attempts failed", "userId", user.ID, "error", err)
			return nil
		}
		lc.Attempts = attempts
		return nil
	})
	g.Go(func() error {
		achieved, err := a.store.ListAchievements(user.ID)
		if err != nil {
			slog.Warn("gather achievements failed", "userId", user.ID, "error", err)
			return nil
		}
		lc.Achieved = achieved
		return nil
	})
	g.Go(func() error {
		posts, err := a.store.ListRecentForumPosts(user.ID, recentForumPostsLimit)
		if err != nil {
			slog.Warn("gather forum posts failed", "userId", user.ID, "error", err)
			return nil
		}
		lc.ForumPosts = posts
		return nil
	})
	_ = g.Wait()
	return lc
}

// Render produces the instruction prose. Sections appear only when their
// underlying data is non-empty; rollups are computed from the raw records at
// render time.
func (lc LearningContext) Render(now time.Time) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Current date and time: %s", now.UTC().Format("2006-01-02 15:04 MST")))
	parts = append(parts, fmt.Sprintf("Student: %s (ID: %s)", lc.User.DisplayName(), lc.User.ID))
	parts = append(parts, fmt.Sprintf("Role: %s", lc.User.Role))

	if lc.Options.CurrentModuleID != "" {
		parts = append(parts, fmt.Sprintf("\nCurrently viewing: Module %s", lc.Options.CurrentModuleID))
		if lc.Options.CurrentLessonID != "" {
			parts = append(parts, fmt.Sprintf("Lesson: %s", lc.Options.CurrentLessonID))
		}
	}

	if len(lc.Progress) > 0 {
		parts = append(parts, "\n## Learning Progress:")
		var completed, inProgress []domain.ProgressRecord
		for _, p := range lc.Progress {
			switch p.Status {
			case domain.ProgressCompleted:
				completed = append(completed, p)
			case domain.ProgressInProgress:
				inProgress = append(inProgress, p)
			}
		}
		if len(completed) > 0 {
			parts = append(parts, fmt.Sprintf("- Completed modules: %d", len(completed)))
		}
		if len(inProgress) > 0 {
			parts = append(parts, fmt.Sprintf("- In progress modules: %d", len(inProgress)))
			for i, p := range inProgress {
				if i >= 3 {
					break
				}
				parts = append(parts, fmt.Sprintf("  * %s: %.0f%% complete", p.ModuleTitle, p.CompletionPct))
			}
		}
	}

	if len(lc.Attempts) > 0 {
		parts = append(parts, "\n## Recent Assessment Performance:")
		correct := 0
		for _, att := range lc.Attempts {
			if att.Correct {
				correct++
			}
		}
		total := len(lc.Attempts)
		parts = append(parts, fmt.Sprintf("Recent accuracy: %d/%d (%.0f%%)", correct, total, 100*float64(correct)/float64(total)))
		if incorrect := total - correct; incorrect > 0 {
			parts = append(parts, fmt.Sprintf("Areas to review: %d recent incorrect answers", incorrect))
		}
	}

	if len(lc.Achieved) > 0 {
		parts = append(parts, fmt.Sprintf("\n## Achievements Earned: %d", len(lc.Achieved)))
		for i, ach := range lc.Achieved {
			if i >= 5 {
				break
			}
			parts = append(parts, fmt.Sprintf("- %s: %s", ach.Name, ach.Description))
		}
	}

	if len(lc.ForumPosts) > 0 {
		parts = append(parts, fmt.Sprintf("\n## Recent Forum Activity: %d posts", len(lc.ForumPosts)))
	}

	parts = appendListSection(parts, "Upcoming Calendar Events", lc.Options.CalendarEvents)
	parts = appendListSection(parts, "Student Notes", lc.Options.Notes)
	parts = appendListSection(parts, "Open Assignments", lc.Options.Assignments)

	if extra := strings.TrimSpace(lc.Options.AdditionalInstructions); extra != "" {
		parts = append(parts, "\n## Additional Instructions:")
		parts = append(parts, extra)
	}

	return strings.Join(parts, "\n")
}

// appendListSection renders caller-supplied items as a bulleted section,
// skipping blanks. An empty list renders nothing.
func appendListSection(parts []string, heading string, items []string) []string {
	var lines []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			lines = append(lines, "- "+item)
		}
	}
	if len(lines) == 0 {
		return parts
	}
	parts = append(parts, fmt.Sprintf("\n## %s:", heading))
	return append(parts, lines...)
}

// Summary produces the compact metadata persisted with each transcript row.
func (lc LearningContext) Summary() map[string]string {
	m := map[string]string{
		"progress_records":   strconv.Itoa(len(lc.Progress)),
		"recent_assessments": strconv.Itoa(len(lc.Attempts)),
		"achievements":       strconv.Itoa(len(lc.Achieved)),
		"recent_forum_posts": strconv.Itoa(len(lc.ForumPosts)),
	}
	if lc.Options.CurrentModuleID != "" {
		m["current_module_id"] = lc.Options.CurrentModuleID
	}
	if lc.Options.CurrentLessonID != "" {
		m["current_lesson_id"] = lc.Options.CurrentLessonID
	}
	return m
}
