package routes

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestResolve(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{name: "landing", path: "landing", expected: Landing},
		{name: "login", path: "login", expected: Login},
		{name: "guarded todos", path: "auth/todos", expected: Todos},
		{name: "legacy todo path forwards", path: "todo", expected: Todos},
		{name: "leading and trailing slashes", path: "/auth/profile/", expected: Profile},
		{name: "unknown falls back to landing", path: "no/such/page", expected: Landing},
		{name: "empty falls back to landing", path: "", expected: Landing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.Resolve(tt.path)
			if got.Name != tt.expected {
				t.Errorf("Resolve(%q) = %q, expected %q", tt.path, got.Name, tt.expected)
			}
		})
	}
}

func TestResolve_GuardedFlags(t *testing.T) {
	table := DefaultTable()

	for _, name := range []string{Dashboard, Todos, Profile, Settings} {
		if !table.Resolve(name).RequiresAuth {
			t.Errorf("expected %q to require auth", name)
		}
	}
	for _, name := range []string{Landing, Login} {
		if table.Resolve(name).RequiresAuth {
			t.Errorf("expected %q to be public", name)
		}
	}

	// The legacy alias inherits the target's guard
	if !table.Resolve("todo").RequiresAuth {
		t.Error("expected the todo alias to resolve to a guarded route")
	}
}

func TestResolve_CyclicRedirects(t *testing.T) {
	table := NewTable(Landing)
	table.Add(Route{Name: Landing})
	table.Add(Route{Name: "a", RedirectTo: "b"})
	table.Add(Route{Name: "b", RedirectTo: "a"})

	// A cyclic alias chain must terminate on the catch-all
	if got := table.Resolve("a"); got.Name != Landing {
		t.Errorf("expected cycle to land on %q, got %q", Landing, got.Name)
	}
}

// stubChecker scripts the guard's view of the session
type stubChecker struct {
	readyErr  error
	authed    bool
	returnURL string

	checkCalls int
	waitCalls  int
}

func (s *stubChecker) WaitReady(context.Context) error {
	s.waitCalls++
	return s.readyErr
}

func (s *stubChecker) CheckStatus(context.Context) bool {
	s.checkCalls++
	return s.authed
}

func (s *stubChecker) SetReturnURL(url string) {
	s.returnURL = url
}

func TestGuard_PublicRoute(t *testing.T) {
	checker := &stubChecker{}
	guard := NewGuard(checker, zerolog.Nop())

	decision := guard.CanEnter(context.Background(), Route{Name: Login})
	if !decision.Allowed {
		t.Errorf("expected public route to be allowed, got %+v", decision)
	}
	if checker.waitCalls != 0 || checker.checkCalls != 0 {
		t.Error("public routes must not touch the session")
	}
}

func TestGuard_AllowsAuthenticated(t *testing.T) {
	checker := &stubChecker{authed: true}
	guard := NewGuard(checker, zerolog.Nop())

	decision := guard.CanEnter(context.Background(), Route{Name: Todos, RequiresAuth: true})
	if !decision.Allowed {
		t.Errorf("expected authenticated navigation to pass, got %+v", decision)
	}
	if checker.waitCalls != 1 {
		t.Error("expected the guard to wait for the startup check")
	}
	if checker.returnURL != "" {
		t.Errorf("expected no return URL on allow, got %q", checker.returnURL)
	}
}

func TestGuard_DeniesAndRecordsReturnURL(t *testing.T) {
	checker := &stubChecker{authed: false}
	guard := NewGuard(checker, zerolog.Nop())

	decision := guard.CanEnter(context.Background(), Route{Name: Profile, RequiresAuth: true})
	if decision.Allowed {
		t.Error("expected denial for signed-out session")
	}
	if decision.RedirectTo != Login {
		t.Errorf("expected redirect to login, got %q", decision.RedirectTo)
	}
	if checker.returnURL != Profile {
		t.Errorf("expected return URL %q, got %q", Profile, checker.returnURL)
	}
}

func TestGuard_DeniesWhenStartupCheckUnavailable(t *testing.T) {
	checker := &stubChecker{readyErr: errors.New("context deadline exceeded")}
	guard := NewGuard(checker, zerolog.Nop())

	decision := guard.CanEnter(context.Background(), Route{Name: Todos, RequiresAuth: true})
	if decision.Allowed || decision.RedirectTo != Login {
		t.Errorf("expected redirect to login, got %+v", decision)
	}
	if checker.checkCalls != 0 {
		t.Error("expected no provider check when startup never completed")
	}
	if checker.returnURL != Todos {
		t.Errorf("expected return URL %q, got %q", Todos, checker.returnURL)
	}
}
