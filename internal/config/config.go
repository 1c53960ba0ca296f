// Package config loads the tracker's settings and its two read-only inputs,
// the subscriber declarations and the term map.
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"coursetracker/lib/configutil"

	"dario.cat/mergo"
)

// ErrConfig wraps every error that should stop the tracker from starting.
var ErrConfig = errors.New("invalid configuration")

const (
	envCoursesFile  = "COURSES_FILE"
	envSmtpId       = "SMTP_ID"
	envSmtpPass     = "SMTP_PASS"
	envTriggerHours = "CRS_UPDATE_TRIGGER_HRS"
)

type Paths struct {
	Subscribers string `json:"subscribers"`
	Terms       string `json:"terms"`
	Snapshot    string `json:"snapshot"`
}

// Selectors are css selectors into the html fragment returned by the catalog.
// Row must contain the #ROW# placeholder, it is replaced with the 1-based row index.
// Availability and Location are relative to the row.
type Selectors struct {
	Row          string `json:"row"`
	Availability string `json:"availability"`
	Location     string `json:"location"`
	Title        string `json:"title"`
}

type Catalog struct {
	SearchUrl         string    `json:"search_url"`
	RegistrationUrl   string    `json:"registration_url"`
	TimeoutSeconds    int       `json:"timeout_seconds"`
	RequestsPerSecond float64   `json:"requests_per_second"`
	UserAgent         string    `json:"user_agent"`
	Selectors         Selectors `json:"selectors"`
}

func (c Catalog) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type Schedule struct {
	IntervalHours       int `json:"interval_hours"`
	CycleTimeoutMinutes int `json:"cycle_timeout_minutes"`
}

func (s Schedule) CycleTimeout() time.Duration {
	return time.Duration(s.CycleTimeoutMinutes) * time.Minute
}

type Smtp struct {
	Server     string `json:"server"`
	Port       int    `json:"port"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	SenderName string `json:"sender_name"`
}

func (s Smtp) Address() string {
	return fmt.Sprintf("%s:%d", s.Server, s.Port)
}

type Notices struct {
	// SummaryReceiver gets a summary of every record after each cycle, empty disables it.
	SummaryReceiver string `json:"summary_receiver"`
	UpdateSubject   string `json:"update_subject"`
	StatusSubject   string `json:"status_subject"`
}

type Config struct {
	Timezone string   `json:"timezone"`
	Paths    Paths    `json:"paths"`
	Catalog  Catalog  `json:"catalog"`
	Schedule Schedule `json:"schedule"`
	Smtp     Smtp     `json:"smtp"`
	Notices  Notices  `json:"notices"`
}

func Default() Config {
	return Config{
		Timezone: "America/New_York",
		Paths: Paths{
			Subscribers: "resources/trail-student-courses.json5",
			Terms:       "resources/course-term.json5",
			Snapshot:    "tmp/courses_data.json",
		},
		Catalog: Catalog{
			SearchUrl:         "https://www.acs.ncsu.edu/php/coursecat/search.php",
			RegistrationUrl:   "https://portalsp.acs.ncsu.edu",
			TimeoutSeconds:    20,
			RequestsPerSecond: 1,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
			Selectors: Selectors{
				Row:          "table.section-table > tbody > tr:nth-of-type(#ROW#)",
				Availability: "td:nth-of-type(4)",
				Location:     "td:nth-of-type(6)",
				Title:        ".course > h1 > small",
			},
		},
		Schedule: Schedule{
			IntervalHours:       2,
			CycleTimeoutMinutes: 30,
		},
		Smtp: Smtp{
			Server:     "smtp.gmail.com",
			Port:       587,
			SenderName: "Course Tracker",
		},
		Notices: Notices{
			UpdateSubject: "NCSU Courses updates",
			StatusSubject: "NCSU Courses status",
		},
	}
}

// Load reads the config file at path (and its .local override), fills in
// defaults, applies environment overrides and validates the result.
//
// A missing config file is not an error, the defaults are used instead.
func Load(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: read %s: %w", ErrConfig, path, err)
	}

	err = mergo.Merge(&cfg, Default())
	if err != nil {
		return Config{}, fmt.Errorf("%w: apply defaults: %w", ErrConfig, err)
	}

	err = applyEnv(&cfg, os.Getenv)
	if err != nil {
		return Config{}, err
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if file := getenv(envCoursesFile); file != "" {
		// a bare file name is looked up next to the configured subscriber file
		if filepath.Base(file) == file {
			file = filepath.Join(filepath.Dir(cfg.Paths.Subscribers), file)
		}
		cfg.Paths.Subscribers = file
	}
	if id := getenv(envSmtpId); id != "" {
		cfg.Smtp.Email = id
	}
	if pass := getenv(envSmtpPass); pass != "" {
		cfg.Smtp.Password = pass
	}
	if hrs := getenv(envTriggerHours); hrs != "" {
		n, err := strconv.Atoi(strings.TrimSpace(hrs))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConfig, envTriggerHours, err)
		}
		cfg.Schedule.IntervalHours = n
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Schedule.IntervalHours <= 0 {
		errs = append(errs, fmt.Errorf("schedule.interval_hours must be positive, got %d", c.Schedule.IntervalHours))
	}
	if c.Schedule.CycleTimeoutMinutes <= 0 {
		errs = append(errs, fmt.Errorf("schedule.cycle_timeout_minutes must be positive, got %d", c.Schedule.CycleTimeoutMinutes))
	}
	if c.Catalog.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("catalog.timeout_seconds must be positive, got %d", c.Catalog.TimeoutSeconds))
	}
	if c.Catalog.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("catalog.requests_per_second must be positive, got %v", c.Catalog.RequestsPerSecond))
	}
	if c.Catalog.SearchUrl == "" {
		errs = append(errs, errors.New("catalog.search_url is empty"))
	}
	if !strings.Contains(c.Catalog.Selectors.Row, "#ROW#") {
		errs = append(errs, fmt.Errorf("catalog.selectors.row '%s' has no #ROW# placeholder", c.Catalog.Selectors.Row))
	}
	if c.Smtp.Port <= 0 || c.Smtp.Port > 65535 {
		errs = append(errs, fmt.Errorf("smtp.port out of range: %d", c.Smtp.Port))
	}
	if c.Notices.SummaryReceiver != "" {
		_, err := mail.ParseAddress(c.Notices.SummaryReceiver)
		if err != nil {
			errs = append(errs, fmt.Errorf("notices.summary_receiver: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return nil
}
