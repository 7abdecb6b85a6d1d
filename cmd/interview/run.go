package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/imagegen"
	"github.com/nidhogg/agent-interview/internal/interactor"
	"github.com/nidhogg/agent-interview/internal/interview"
	"github.com/nidhogg/agent-interview/internal/transcript"
	"go.uber.org/zap"
)

const (
	colorBlue   = "\033[34m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorRed    = "\033[31m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorItalic = "\033[3m"
	colorReset  = "\033[0m"
)

type runOptions struct {
	Object   agent.Config
	Prompt   string
	Mode     interview.Mode
	Features []string
	Dir      string
}

// runInterview drives one session on the terminal: questions are written
// to out and answered line by line from in. End of input asks the model
// to finish with what it has.
func (e *env) runInterview(ctx context.Context, opts runOptions, in io.Reader, out io.Writer) (agent.Config, error) {
	catalog, err := e.registry.Features(ctx)
	if err != nil {
		return agent.Config{}, fmt.Errorf("load feature catalog: %w", err)
	}

	id := uuid.NewString()
	var rec interactor.Recorder
	if e.transcripts != nil {
		err := e.transcripts.Begin(ctx, transcript.Session{
			ID: id, Mode: string(opts.Mode), Prompt: opts.Prompt, Dir: opts.Dir,
		})
		if err != nil {
			e.logger.Warn("transcript not recorded", zap.Error(err))
		} else {
			rec = e.transcripts.Recorder(id)
		}
	}

	iv, err := interview.New(interview.Options{
		Object:    opts.Object,
		Prompt:    opts.Prompt,
		Mode:      opts.Mode,
		Catalog:   catalog,
		Features:  opts.Features,
		Completer: e.completer,
		Model:     e.model,
		Images:    e.images,
		Recorder:  rec,
		Logger:    e.logger.With(zap.String("session", id)),
	})
	if err != nil {
		return agent.Config{}, err
	}
	defer iv.Close()

	questions := make(chan string, 8)
	var lastQuestion string
	iv.On(func(ev interview.Event) {
		switch ev.Type {
		case interview.EventInput:
			lastQuestion = ev.Question
			questions <- ev.Question
		case interview.EventError:
			printEvent(out, ev)
			if opts.Mode != interview.ModeAuto && lastQuestion != "" {
				questions <- lastQuestion
			}
		default:
			printEvent(out, ev)
		}
	})

	if err := iv.Start(ctx); err != nil {
		return agent.Config{}, err
	}

	lines := readLines(in)
	eof := false
loop:
	for {
		select {
		case q := <-questions:
			if eof {
				iv.Close()
				break loop
			}
			fmt.Fprintf(out, "%s%s%s\n> ", colorBold, q, colorReset)
			answer, ok := nextAnswer(ctx, lines, iv.Done())
			if !ok {
				eof = true
				fmt.Fprintln(out)
				iv.End(ctx, "")
				continue
			}
			iv.Write(ctx, answer)
		case <-iv.Done():
			break loop
		case <-ctx.Done():
			iv.Close()
			break loop
		}
	}

	result, werr := iv.Wait(context.Background())
	if e.transcripts != nil && rec != nil {
		status := "finished"
		if werr != nil {
			status = "failed"
		}
		if err := e.transcripts.Finish(context.Background(), id, status, opts.Dir); err != nil {
			e.logger.Warn("transcript finish failed", zap.Error(err))
		}
	}
	return result, werr
}

// readLines streams trimmed lines from r; the channel closes at EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- strings.TrimSpace(sc.Text())
		}
	}()
	return ch
}

// nextAnswer returns the next non-empty line. ok is false at EOF, when the
// session ends or ctx is done.
func nextAnswer(ctx context.Context, lines <-chan string, done <-chan struct{}) (string, bool) {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return "", false
			}
			if line != "" {
				return line, true
			}
		case <-done:
			return "", false
		case <-ctx.Done():
			return "", false
		}
	}
}

func printEvent(out io.Writer, ev interview.Event) {
	switch ev.Type {
	case interview.EventOutput:
		fmt.Fprintln(out, ev.Text)
	case interview.EventProcessing:
		if ev.Processing {
			fmt.Fprintf(out, "%s%sthinking...%s\n", colorDim, colorItalic, colorReset)
		}
	case interview.EventName, interview.EventBio, interview.EventDesc, interview.EventPrivate:
		fmt.Fprintf(out, "%s%s[AGENT UPDATE]%s %s%s%s %s→%s %s%v%s\n",
			colorBlue, colorBold, colorReset, colorCyan, ev.Type, colorReset,
			colorDim, colorReset, colorGreen, ev.Value, colorReset)
	case interview.EventFeatures:
		fmt.Fprintf(out, "%s%s[AGENT UPDATE]%s %sfeatures%s\n", colorBlue, colorBold, colorReset, colorCyan, colorReset)
		features, _ := ev.Value.(map[string]json.RawMessage)
		names := make([]string, 0, len(features))
		for name := range features {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if string(features[name]) == "null" {
				continue
			}
			fmt.Fprintf(out, "  %s→%s %s%s%s: %s%s%s\n",
				colorDim, colorReset, colorYellow, name, colorReset, colorGreen, features[name], colorReset)
		}
	case interview.EventPreview, interview.EventHomespace:
		if ev.Aborted() {
			return
		}
		if ev.Err != nil {
			fmt.Fprintf(out, "%s%s image failed: %v%s\n", colorRed, ev.Type, ev.Err, colorReset)
			return
		}
		if img, ok := ev.Asset.(*imagegen.Image); ok && img != nil {
			fmt.Fprintf(out, "%s%s[AGENT UPDATE]%s %s%s image%s %s→%s %s (%d bytes)\n",
				colorBlue, colorBold, colorReset, colorCyan, ev.Type, colorReset,
				colorDim, colorReset, img.ContentType, len(img.Data))
		}
	case interview.EventError:
		fmt.Fprintf(out, "%sturn failed: %v%s\n", colorRed, ev.Err, colorReset)
	}
}

func printSummary(out io.Writer, c agent.Config) {
	for _, line := range c.Summary() {
		fmt.Fprintf(out, "%s%s:%s %s\n", colorGreen, line.Label, colorReset, line.Value)
	}
}
