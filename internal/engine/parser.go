package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/keltia/fetiche/internal/formats"
	"github.com/keltia/fetiche/internal/models"
	"github.com/keltia/fetiche/internal/runtime"
	"github.com/keltia/fetiche/internal/storage"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrBadJobText  = errors.New("cannot parse job description")
)

// jobDoc is the declarative job description. Unrecognized keys are a
// parse failure.
type jobDoc struct {
	Name     string         `toml:"name"`
	Type     string         `toml:"type"`
	Owner    string         `toml:"owner"`
	Producer map[string]any `toml:"producer"`
	Middle   []any          `toml:"middle"`
	Output   map[string]any `toml:"output"`
}

// ParseJob turns a declarative job text into a validated pipeline
// bound to real sources and storage areas.
func (e *Engine) ParseJob(text string) (*models.Job, error) {
	var doc jobDoc
	dec := toml.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJobText, err)
	}

	kind := models.JobKind(doc.Type)
	switch kind {
	case models.KindFetch, models.KindRead, models.KindStream:
	default:
		return nil, fmt.Errorf("%w: job type %q", ErrUnknownTask, doc.Type)
	}

	job := models.NewJob(doc.Name)
	job.Kind = kind
	job.Owner = doc.Owner

	// The producer decides the record format flowing down the pipe; a
	// Convert middle replaces it for everything downstream.
	format, err := e.buildProducer(job, doc.Producer)
	if err != nil {
		return nil, err
	}

	for _, entry := range doc.Middle {
		format, err = e.buildMiddle(job, entry, format)
		if err != nil {
			return nil, err
		}
	}

	if len(doc.Output) > 0 {
		if err := e.buildConsumer(job, doc.Output, format); err != nil {
			return nil, err
		}
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// singleKey unpacks the one-entry tagged tables the job grammar uses.
func singleKey(m map[string]any) (string, any, error) {
	if len(m) != 1 {
		return "", nil, fmt.Errorf("%w: want exactly one tag, got %d", ErrBadJobText, len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	return "", nil, nil
}

func (e *Engine) buildProducer(job *models.Job, block map[string]any) (formats.Format, error) {
	if len(block) == 0 {
		return formats.None, fmt.Errorf("%w: missing producer block", ErrBadJobText)
	}
	tag, v, err := singleKey(block)
	if err != nil {
		return formats.None, err
	}

	args, ok := v.([]any)
	if !ok || len(args) == 0 {
		return formats.None, fmt.Errorf("%w: producer %s needs [source, {filter}] arguments", ErrBadJobText, tag)
	}
	name, ok := args[0].(string)
	if !ok {
		return formats.None, fmt.Errorf("%w: producer %s: first argument must be a source name", ErrBadJobText, tag)
	}

	filter := models.Filter{}
	if len(args) > 1 {
		fm, ok := args[1].(map[string]any)
		if !ok {
			return formats.None, fmt.Errorf("%w: producer %s: second argument must be a filter block", ErrBadJobText, tag)
		}
		filter, err = models.FilterFromMap(fm)
		if err != nil {
			return formats.None, err
		}
	}

	switch tag {
	case "Fetch":
		src, err := e.sources.FetcherFor(name)
		if err != nil {
			return formats.None, err
		}
		job.Add(runtime.NewFetchTask(src).WithFilter(filter))
		return src.Format(), nil
	case "Stream":
		src, err := e.sources.StreamerFor(name)
		if err != nil {
			return formats.None, err
		}
		job.Add(runtime.NewStreamTask(src).WithFilter(filter))
		return src.Format(), nil
	case "Read":
		// the "source" is a local file path
		job.Add(runtime.NewReadTask(name))
		return formats.JsonX, nil
	default:
		return formats.None, fmt.Errorf("%w: producer %q", ErrUnknownTask, tag)
	}
}

// buildMiddle appends one middle task, returning the record format
// flowing out of it.
func (e *Engine) buildMiddle(job *models.Job, entry any, format formats.Format) (formats.Format, error) {
	switch v := entry.(type) {
	case string:
		switch v {
		case "Copy":
			job.Add(runtime.NewCopyTask())
		case "Nothing":
			job.Add(runtime.NewNothingTask())
		default:
			return format, fmt.Errorf("%w: middle %q", ErrUnknownTask, v)
		}
		return format, nil

	case map[string]any:
		tag, args, err := singleKey(v)
		if err != nil {
			return format, err
		}
		fields, _ := args.(map[string]any)

		switch tag {
		case "Tee":
			path := stringField(fields, "path")
			if path == "" {
				if s, ok := args.(string); ok {
					path = s
				}
			}
			if path == "" {
				return format, fmt.Errorf("%w: Tee needs a path", ErrBadJobText)
			}
			job.Add(runtime.NewTeeTask(path))
			return format, nil

		case "Convert":
			from := formats.Format(stringField(fields, "from"))
			into := formats.Format(stringField(fields, "into"))
			if from == "" {
				from = format
			}
			if into == "" {
				return format, fmt.Errorf("%w: Convert needs an into format", ErrBadJobText)
			}
			conv, err := runtime.NewConvertTask(from, into)
			if err != nil {
				return format, err
			}
			job.Add(conv)
			// downstream consumers see the post-conversion format
			return conv.Into(), nil

		case "Message":
			text := stringField(fields, "text")
			if text == "" {
				if s, ok := args.(string); ok {
					text = s
				}
			}
			job.Add(runtime.NewMessageTask(text))
			return format, nil

		case "Copy":
			job.Add(runtime.NewCopyTask())
			return format, nil
		case "Nothing":
			job.Add(runtime.NewNothingTask())
			return format, nil

		default:
			return format, fmt.Errorf("%w: middle %q", ErrUnknownTask, tag)
		}

	default:
		return format, fmt.Errorf("%w: middle entry %v", ErrBadJobText, entry)
	}
}

func (e *Engine) buildConsumer(job *models.Job, block map[string]any, format formats.Format) error {
	tag, v, err := singleKey(block)
	if err != nil {
		return err
	}

	switch tag {
	case "Save":
		task := runtime.NewSaveTask("").WithFormat(format).WithStdout(e.stdout)
		switch args := v.(type) {
		case string:
			task = runtime.NewSaveTask(args).WithFormat(format).WithStdout(e.stdout)
		case map[string]any:
			path := stringField(args, "path")
			if path == "" {
				return fmt.Errorf("%w: Save needs a path", ErrBadJobText)
			}
			task = runtime.NewSaveTask(path).WithFormat(format).WithStdout(e.stdout)
			if c := stringField(args, "container"); c != "" {
				task = task.WithContainer(formats.Container(c))
			}
		default:
			return fmt.Errorf("%w: Save arguments", ErrBadJobText)
		}
		job.Add(task)
		return nil

	case "Store":
		fields, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: Store needs {area}", ErrBadJobText)
		}
		area, err := e.storage.Get(stringField(fields, "area"))
		if err != nil {
			return err
		}
		job.Add(runtime.NewStoreTask(area, job.UUID))
		return nil

	case "Record":
		fields, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: Record needs {table}", ErrBadJobText)
		}
		table := stringField(fields, "table")
		areaName := stringField(fields, "area")
		var cache *storage.CacheArea
		if areaName != "" {
			area, err := e.storage.Get(areaName)
			if err != nil {
				return err
			}
			cache = area.Cache
		} else {
			// first cache area wins when none is named
			for _, area := range e.storage.List() {
				if area.Cache != nil {
					cache = area.Cache
					break
				}
			}
		}
		if cache == nil {
			return fmt.Errorf("%w: Record needs a cache storage area", ErrBadJobText)
		}
		job.Add(runtime.NewRecordTask(cache, table))
		return nil

	default:
		return fmt.Errorf("%w: consumer %q", ErrUnknownTask, tag)
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
