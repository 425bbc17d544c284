package factory

import (
	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/model"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// TaskGroup is a logical grouping of tasks and the writers receiving their rows.
type TaskGroup struct {
	Tasks   []model.Task
	Writers model.MultiWriter
}

// TaskFactory creates a task whose report rows go to out.
type TaskFactory func(cfg *config.Config, out model.Writer) (model.Task, error)

// WriterFactory creates a writer from its definition.
type WriterFactory func(def config.WriterDef, cfg *config.Config) (model.Writer, error)

var (
	taskRegistry   = make(map[string]TaskFactory)
	writerRegistry = make(map[string]WriterFactory)
)

// RegisterTask registers a new task type with its factory function.
func RegisterTask(name string, factory TaskFactory) {
	if _, exists := taskRegistry[name]; exists {
		panic(fmt.Sprintf("task type '%s' already registered", name))
	}
	taskRegistry[name] = factory
}

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := writerRegistry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	writerRegistry[name] = factory
}

// CreateWriters creates every enabled writer of the output section.
func CreateWriters(cfg *config.Config) (model.MultiWriter, error) {
	var writers model.MultiWriter
	for _, def := range cfg.Output.Writers {
		if !def.Enabled {
			continue
		}
		factory, ok := writerRegistry[def.Type]
		if !ok {
			writers.Close()
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}
		w, err := factory(def, cfg)
		if err != nil {
			writers.Close()
			return nil, fmt.Errorf("error creating writer type '%s': %w", def.Type, err)
		}
		log.Printf("Created writer of type '%s'", def.Type)
		writers = append(writers, w)
	}
	return writers, nil
}

// Create builds the writers and then one task per name, all tasks sharing the writers.
func Create(cfg *config.Config, taskTypes []string) (*TaskGroup, error) {
	writers, err := CreateWriters(cfg)
	if err != nil {
		return nil, err
	}

	group := &TaskGroup{Writers: writers}
	for _, taskType := range taskTypes {
		log.Printf("Creating task of type: '%s'", taskType)

		factory, ok := taskRegistry[taskType]
		if !ok {
			writers.Close()
			return nil, fmt.Errorf("unknown task type: '%s'", taskType)
		}

		task, err := factory(cfg, writers)
		if err != nil {
			writers.Close()
			return nil, fmt.Errorf("error creating task type '%s': %w", taskType, err)
		}
		group.Tasks = append(group.Tasks, task)
	}
	return group, nil
}
