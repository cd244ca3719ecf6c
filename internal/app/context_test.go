package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tutorhub/pkg/domain"
	"tutorhub/pkg/store"
)

func TestGatherContextCollectsAllFeeds(t *testing.T) {
	provider := newFakeProvider()
	a, memStore, user := newTestApp(t, provider)

	memStore.SeedProgress(user.ID, []domain.ProgressRecord{
		{UserID: user.ID, ModuleID: "m1", ModuleTitle: "Foundations", Status: domain.ProgressCompleted, CompletionPct: 100},
		{UserID: user.ID, ModuleID: "m2", ModuleTitle: "Algorithms", Status: domain.ProgressInProgress, CompletionPct: 40},
	})
	memStore.SeedAssessmentAttempts(user.ID, []domain.AssessmentAttempt{
		{ID: "att-1", UserID: user.ID, Correct: true, AttemptedAt: time.Now()},
		{ID: "att-2", UserID: user.ID, Correct: false, AttemptedAt: time.Now()},
	})
	memStore.SeedAchievements(user.ID, []domain.Achievement{
		{ID: "ach-1", Name: "First Steps", Description: "Completed a module", EarnedAt: time.Now()},
	})
	memStore.SeedForumPosts(user.ID, []domain.ForumPost{
		{ID: "post-1", UserID: user.ID, Title: "Stuck on recursion", CreatedAt: time.Now()},
	})

	lc := a.GatherContext(context.Background(), user, ContextOptions{})
	if len(lc.Progress) != 2 || len(lc.Attempts) != 2 || len(lc.Achieved) != 1 || len(lc.ForumPosts) != 1 {
		t.Fatalf("unexpected gather: %+v", lc)
	}
}

func TestRenderOmitsEmptySections(t *testing.T) {
	lc := LearningContext{User: domain.User{ID: "u1", Username: "learner", Role: domain.RoleStudent}}
	out := lc.Render(time.Now())

	for _, section := range []string{"Learning Progress", "Assessment Performance", "Achievements", "Forum Activity", "Calendar Events", "Student Notes", "Open Assignments"} {
		if strings.Contains(out, section) {
			t.Fatalf("empty section %q rendered:\n%s", section, out)
		}
	}
	if !strings.Contains(out, "Student: learner") {
		t.Fatalf("student line missing:\n%s", out)
	}
}

func TestRenderComputesAccuracyInline(t *testing.T) {
	lc := LearningContext{
		User: domain.User{ID: "u1", Username: "learner"},
		Attempts: []domain.AssessmentAttempt{
			{Correct: true}, {Correct: true}, {Correct: true}, {Correct: false},
		},
	}
	out := lc.Render(time.Now())
	if !strings.Contains(out, "Recent accuracy: 3/4 (75%)") {
		t.Fatalf("accuracy rollup missing:\n%s", out)
	}
	if !strings.Contains(out, "Areas to review: 1 recent incorrect answers") {
		t.Fatalf("review line missing:\n%s", out)
	}
}

func TestRenderIncludesCurrentLocationAndExtras(t *testing.T) {
	lc := LearningContext{
		User: domain.User{ID: "u1", Username: "learner"},
		Options: ContextOptions{
			CurrentModuleID:        "m2",
			CurrentLessonID:        "l5",
			AdditionalInstructions: "Focus on worked examples.",
		},
	}
	out := lc.Render(time.Now())
	if !strings.Contains(out, "Currently viewing: Module m2") || !strings.Contains(out, "Lesson: l5") {
		t.Fatalf("location missing:\n%s", out)
	}
	if !strings.Contains(out, "Focus on worked examples.") {
		t.Fatalf("additional instructions missing:\n%s", out)
	}
}

func TestRenderIncludesCallerExtensionLists(t *testing.T) {
	lc := LearningContext{
		User: domain.User{ID: "u1", Username: "learner"},
		Options: ContextOptions{
			CalendarEvents: []string{"Midterm review session on Friday", "  "},
			Notes:          []string{"Struggled with pointers last week"},
			Assignments:    []string{"Graph traversal problem set due Monday"},
		},
	}
	out := lc.Render(time.Now())
	if !strings.Contains(out, "## Upcoming Calendar Events:") || !strings.Contains(out, "- Midterm review session on Friday") {
		t.Fatalf("calendar section missing:\n%s", out)
	}
	if !strings.Contains(out, "## Student Notes:") || !strings.Contains(out, "- Struggled with pointers last week") {
		t.Fatalf("notes section missing:\n%s", out)
	}
	if !strings.Contains(out, "## Open Assignments:") || !strings.Contains(out, "- Graph traversal problem set due Monday") {
		t.Fatalf("assignments section missing:\n%s", out)
	}

	// Blank-only lists render no heading.
	blank := LearningContext{User: domain.User{ID: "u1"}, Options: ContextOptions{Notes: []string{"   "}}}
	if strings.Contains(blank.Render(time.Now()), "Student Notes") {
		t.Fatalf("blank notes rendered a section")
	}
}

func TestGatherContextSurvivesFeedFailure(t *testing.T) {
	provider := newFakeProvider()
	a, _, user := newTestApp(t, provider)

	// failingFeeds wraps the store with one broken feed.
	a.store = failingFeeds{a.store}
	lc := a.GatherContext(context.Background(), user, ContextOptions{})
	if lc.Progress != nil {
		t.Fatalf("expected empty progress from failing feed")
	}
}

type failingFeeds struct {
	store.Store
}

func (failingFeeds) ListProgress(string) ([]domain.ProgressRecord, error) {
	return nil, errors.New("progress feed down")
}

func TestContextSummaryCounts(t *testing.T) {
	lc := LearningContext{
		Progress: []domain.ProgressRecord{{}, {}},
		Attempts: []domain.AssessmentAttempt{{}},
		Options:  ContextOptions{CurrentModuleID: "m9"},
	}
	sum := lc.Summary()
	if sum["progress_records"] != "2" || sum["recent_assessments"] != "1" || sum["current_module_id"] != "m9" {
		t.Fatalf("unexpected summary: %v", sum)
	}
}
