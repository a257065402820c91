// Package shell is an interactive console for students and organizers.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"eventhub/internal/app"
	"eventhub/internal/chatbot"
	"eventhub/internal/form"
	"eventhub/internal/models"
)

const helpText = `Commands:
  signin <student|organizer> [email] [password]   sign in
  signup <student|organizer>                      create an account
  signout                                         sign out
  whoami                                          show the signed-in user
  events [type]                                   list events, optionally by type
  filter <All|Hackathon|Seminar|Webinar|Workshop> change the event filter
  mine                                            list your posted events (organizers)
  new                                             start a new event
  edit <id>                                       edit one of your events
  set <field> <value>                             set a form field
  form                                            show the event form
  cancel                                          discard the form
  save                                            post or update the event
  delete <id>                                     delete one of your events
  ask <question>                                  ask the assistant
  help                                            show this help
  quit                                            leave`

// Shell reads commands line by line and writes results to out.
type Shell struct {
	logger  *slog.Logger
	app     *app.App
	scanner *bufio.Scanner
	out     io.Writer
}

func New(logger *slog.Logger, a *app.App, in io.Reader, out io.Writer) *Shell {
	return &Shell{logger: logger, app: a, scanner: bufio.NewScanner(in), out: out}
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

// prompt asks for one line. It reports false at end of input.
func (s *Shell) prompt(label string) (string, bool) {
	s.printf("%s", label)
	if !s.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.scanner.Text()), true
}

func (s *Shell) notify(n app.Notice) {
	s.printf("%s\n", n)
}

func (s *Shell) fail(err error) {
	s.logger.Debug("Command failed", "error", err)
	s.notify(app.NoticeFor(err))
}

// Run processes commands until quit, end of input or ctx ends.
func (s *Shell) Run(ctx context.Context) error {
	s.printf("%s\n", chatbot.Greeting())
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, ok := s.prompt("> ")
		if !ok {
			return s.scanner.Err()
		}
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := strings.ToLower(fields[0]), fields[1:]
		rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

		switch cmd {
		case "quit", "exit":
			return nil
		case "help":
			s.printf("%s\n", helpText)
		case "signin":
			s.signIn(ctx, args)
		case "signup":
			s.signUp(ctx, args)
		case "signout":
			s.app.SignOut()
			s.printf("Signed out.\n")
		case "whoami":
			s.whoami()
		case "events":
			if len(args) > 0 && !s.setFilter(args[0]) {
				continue
			}
			v := s.app.Views()
			s.printf("Filter: %s\n", v.Filter)
			s.printEvents(v.Student.Events, "No events found.")
		case "filter":
			if len(args) == 0 {
				s.printf("Filter: %s\n", s.app.Filter())
				continue
			}
			if s.setFilter(args[0]) {
				s.printf("Filter: %s (%d events)\n", s.app.Filter(), s.app.Views().Student.Count)
			}
		case "mine":
			s.mine()
		case "new", "cancel":
			s.app.CancelEdit()
			s.printForm()
		case "edit":
			if len(args) != 1 {
				s.printf("usage: edit <id>\n")
				continue
			}
			if err := s.app.BeginEdit(args[0]); err != nil {
				s.fail(err)
				continue
			}
			s.printForm()
		case "set":
			if len(args) < 1 {
				s.printf("usage: set <field> <value>\n")
				continue
			}
			value := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
			if err := s.app.SetField(args[0], value); err != nil {
				s.fail(err)
			}
		case "form":
			s.printForm()
		case "save":
			out, err := s.app.Submit(ctx)
			if err != nil {
				s.fail(err)
				continue
			}
			s.notify(app.SavedNotice(out))
		case "delete":
			if len(args) != 1 {
				s.printf("usage: delete <id>\n")
				continue
			}
			s.delete(ctx, args[0])
		case "ask":
			s.printf("%s\n", chatbot.Answer(rest))
		default:
			s.printf("Unknown command %q. Type 'help' for the list of commands.\n", cmd)
		}
	}
}

func (s *Shell) setFilter(raw string) bool {
	f, err := models.ParseFilter(raw)
	if err != nil {
		s.fail(err)
		return false
	}
	s.app.SetFilter(f)
	return true
}

func (s *Shell) signIn(ctx context.Context, args []string) {
	if len(args) < 1 {
		s.printf("usage: signin <student|organizer> [email] [password]\n")
		return
	}
	role, err := models.ParseRole(args[0])
	if err != nil {
		s.fail(err)
		return
	}
	email, password := "", ""
	if len(args) > 1 {
		email = args[1]
	} else if email, _ = s.prompt("email: "); email == "" {
		return
	}
	if len(args) > 2 {
		password = args[2]
	} else {
		password, _ = s.prompt("password: ")
	}

	u, err := s.app.SignIn(ctx, role, email, password)
	if err != nil {
		s.fail(err)
		return
	}
	s.printf("Welcome, %s (%s).\n", u.DisplayName(), u.Role.Label())
}

func (s *Shell) signUp(ctx context.Context, args []string) {
	if len(args) != 1 {
		s.printf("usage: signup <student|organizer>\n")
		return
	}
	role, err := models.ParseRole(args[0])
	if err != nil {
		s.fail(err)
		return
	}
	f := models.SignUpForm{Role: role}
	fields := models.SignUpFields(role)
	for {
		for _, field := range fields {
			value, ok := s.prompt(field + ": ")
			if !ok {
				return
			}
			if err := f.Set(field, value); err != nil {
				s.fail(err)
				return
			}
		}
		u, err := s.app.SignUp(ctx, f)
		var missing *models.MissingFieldsError
		switch {
		case errors.As(err, &missing) && len(missing.Fields) > 0:
			// Keep what was entered and ask again for the blanks only.
			s.fail(err)
			fields = missing.Fields
		case err != nil:
			s.fail(err)
			return
		default:
			s.notify(app.SignedUpNotice(u))
			return
		}
	}
}

func (s *Shell) whoami() {
	u, ok := s.app.User()
	if !ok {
		s.printf("Not signed in.\n")
		return
	}
	s.printf("%s <%s> (%s)\n", u.DisplayName(), u.Email, u.Role.Label())
}

func (s *Shell) mine() {
	u, ok := s.app.User()
	if !ok || !u.IsOrganizer() {
		s.fail(models.ErrNotOrganizer)
		return
	}
	s.printEvents(s.app.Views().Mine.Events, "You have not posted any events yet.")
}

func (s *Shell) delete(ctx context.Context, id string) {
	confirm := app.ConfirmFunc(func(ev models.Event, prompt app.Notice) bool {
		s.printf("%s\n%s\n", prompt.Title, prompt.Message)
		answer, _ := s.prompt(fmt.Sprintf("Delete %q? [y/N] ", ev.Title))
		return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
	})
	ok, err := s.app.Delete(ctx, id, confirm)
	switch {
	case err != nil:
		s.fail(err)
	case ok:
		s.notify(app.DeletedNotice)
	default:
		s.printf("Cancelled.\n")
	}
}

func (s *Shell) printEvents(events []models.Event, empty string) {
	if len(events) == 0 {
		s.printf("%s\n", empty)
		return
	}
	for _, ev := range events {
		s.printf("[%s] %s (%s) %s %s @ %s | %s\n", ev.ID, ev.Title, ev.Type, ev.Date, ev.Timing, ev.Location, ev.Organization)
		if ev.Description != "" {
			s.printf("    %s\n", ev.Description)
		}
		if ev.Link != "" {
			s.printf("    %s\n", ev.Link)
		}
	}
}

func (s *Shell) printForm() {
	st := s.app.Form()
	s.printf("%s\n", st.Heading)
	for _, field := range models.EventFields {
		s.printf("  %-12s %s\n", field, st.Values.Get(field))
	}
	if st.Mode == form.ModeEditing {
		s.printf("Type 'save' to update or 'cancel' to discard.\n")
	} else {
		s.printf("Type 'save' to post.\n")
	}
}
