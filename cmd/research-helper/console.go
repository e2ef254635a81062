package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"

	"github.com/mikeboe/deep-research/pkg/pipeline"
)

var errCancelled = errors.New("cancelled by user")

// Console asks the questions a run suspends with. On a terminal it uses
// survey prompts; otherwise it reads one line per question.
type Console struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	spinner     *spinner.Spinner

	mu sync.Mutex
}

func NewConsole(in io.Reader, out io.Writer) *Console {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	c := &Console{in: bufio.NewReader(in), out: out, interactive: interactive}
	if interactive {
		c.spinner = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
		_ = c.spinner.Color("cyan")
	}
	return c
}

// AskQuery answers get-user-query. Depth and breadth are passed through as
// typed so the workflow applies its own defaults.
func (c *Console) AskQuery(p pipeline.QueryPrompt) (map[string]string, error) {
	query, err := c.ask(p.Message.Query, "", true)
	if err != nil {
		return nil, err
	}
	depth, err := c.ask(p.Message.Depth, "2", false)
	if err != nil {
		return nil, err
	}
	breadth, err := c.ask(p.Message.Breadth, "2", false)
	if err != nil {
		return nil, err
	}
	return map[string]string{"query": query, "depth": depth, "breadth": breadth}, nil
}

// AskApproval shows the summary and asks whether to continue.
func (c *Console) AskApproval(p pipeline.ApprovalPrompt) (pipeline.ApprovalAnswer, error) {
	fmt.Fprintf(c.out, "\n%s\n\n", p.Summary)

	if !c.interactive {
		answer, err := c.ask(p.Message, "", false)
		if err != nil {
			return pipeline.ApprovalAnswer{}, err
		}
		return pipeline.ApprovalAnswer{Approved: pipeline.FlexBool(pipeline.ParseYes(answer))}, nil
	}

	var approved bool
	prompt := &survey.Confirm{
		Message: strings.TrimSuffix(p.Message, " [y/n]"),
		Help:    "Answering no runs the research again with a new query",
	}
	if err := survey.AskOne(prompt, &approved, c.icons()); err != nil {
		return pipeline.ApprovalAnswer{}, surveyErr(err)
	}
	return pipeline.ApprovalAnswer{Approved: pipeline.FlexBool(approved)}, nil
}

func (c *Console) ask(message, def string, required bool) (string, error) {
	if c.interactive {
		var answer string
		opts := []survey.AskOpt{c.icons()}
		if required {
			opts = append(opts, survey.WithValidator(survey.Required))
		}
		if err := survey.AskOne(&survey.Input{Message: message, Default: def}, &answer, opts...); err != nil {
			return "", surveyErr(err)
		}
		return strings.TrimSpace(answer), nil
	}

	fmt.Fprintf(c.out, "%s ", message)
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("no answer for %q: input closed", message)
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *Console) icons() survey.AskOpt {
	return survey.WithIcons(func(icons *survey.IconSet) {
		icons.Question.Text = "?"
		icons.Question.Format = "cyan+b"
		icons.Help.Format = "blue"
	})
}

func surveyErr(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return errCancelled
	}
	return err
}

// WithSpinner shows message while fn runs.
func (c *Console) WithSpinner(message string, fn func() error) error {
	if c.spinner == nil {
		fmt.Fprintln(c.out, message)
		return fn()
	}
	c.mu.Lock()
	c.spinner.Suffix = " " + message
	c.spinner.Start()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.spinner.Active() {
			c.spinner.Stop()
		}
	}()
	return fn()
}

// Status updates the spinner text while it is running.
func (c *Console) Status(message string) {
	if c.spinner == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spinner.Suffix = " " + message
}
