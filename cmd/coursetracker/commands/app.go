package commands

import (
	"fmt"

	"coursetracker/internal/catalog"
	"coursetracker/internal/chrono"
	"coursetracker/internal/config"
	"coursetracker/internal/notify"
	"coursetracker/internal/store"
	"coursetracker/internal/telemetry"
	"coursetracker/internal/tracker"
)

type app struct {
	cfg     config.Config
	tel     telemetry.API
	time    chrono.StandardTime
	session notify.Session
	tracker *tracker.Tracker
}

// newApp wires every component from the config file, the returned app must be closed.
func newApp() (app, error) {
	var tel telemetry.API = telemetry.NewScopedAPI(serviceName, baseTel)

	cfg, err := config.Load(configPath)
	if err != nil {
		return app{}, err
	}

	clock, err := chrono.NewStandardTime(cfg.Timezone)
	if err != nil {
		return app{}, fmt.Errorf("%w: timezone: %w", config.ErrConfig, err)
	}

	var output telemetry.InstrumentOutput
	if dumpHttp != "" {
		fsOutput, err := telemetry.NewFilesystemOutput(dumpHttp, tel)
		if err != nil {
			return app{}, fmt.Errorf("http dump directory: %w", err)
		}
		output = fsOutput
	}

	client := catalog.NewClient(catalog.ClientOptions{
		SearchUrl:         cfg.Catalog.SearchUrl,
		UserAgent:         cfg.Catalog.UserAgent,
		Timeout:           cfg.Catalog.Timeout(),
		RequestsPerSecond: cfg.Catalog.RequestsPerSecond,
		Output:            output,
	}, tel)

	parser, err := catalog.NewParser(catalog.Selectors{
		Row:          cfg.Catalog.Selectors.Row,
		Availability: cfg.Catalog.Selectors.Availability,
		Location:     cfg.Catalog.Selectors.Location,
		Title:        cfg.Catalog.Selectors.Title,
	})
	if err != nil {
		return app{}, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}

	session, err := notify.NewSession(notify.Options{
		Server:          cfg.Smtp.Server,
		Port:            cfg.Smtp.Port,
		Email:           cfg.Smtp.Email,
		Password:        cfg.Smtp.Password,
		SenderName:      cfg.Smtp.SenderName,
		RegistrationUrl: cfg.Catalog.RegistrationUrl,
		UpdateSubject:   cfg.Notices.UpdateSubject,
		StatusSubject:   cfg.Notices.StatusSubject,
		SummaryReceiver: cfg.Notices.SummaryReceiver,
	}, tel)
	if err != nil {
		return app{}, err
	}

	t := tracker.NewTracker(tracker.Dependencies{
		Catalog:      client,
		Parser:       parser,
		Store:        store.NewFile(cfg.Paths.Snapshot),
		Notifier:     session,
		Time:         clock,
		LoadSkeleton: cfg.LoadSkeleton,
		CycleTimeout: cfg.Schedule.CycleTimeout(),
	}, tel)

	return app{
		cfg:     cfg,
		tel:     tel,
		time:    clock,
		session: session,
		tracker: t,
	}, nil
}

func (a app) Close() {
	a.session.Close()
}
