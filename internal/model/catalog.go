package model

import (
	"errors"
	"strings"
)

// Project, Tag, Contact and Location carry no foreign references, so they
// are synchronized before tasks.

type Project struct {
	SyncMeta
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Archived bool   `json:"archived"`
}

func (p Project) Validate() error {
	if err := p.SyncMeta.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("model: project name is required")
	}
	return nil
}

type Tag struct {
	SyncMeta
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

func (t Tag) Validate() error {
	if err := t.SyncMeta.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("model: tag name is required")
	}
	return nil
}

type Contact struct {
	SyncMeta
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func (c Contact) Validate() error {
	if err := c.SyncMeta.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("model: contact name is required")
	}
	return nil
}

type Location struct {
	SyncMeta
	Name      string   `json:"name"`
	Address   string   `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

func (l Location) Validate() error {
	if err := l.SyncMeta.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(l.Name) == "" {
		return errors.New("model: location name is required")
	}
	if (l.Latitude == nil) != (l.Longitude == nil) {
		return errors.New("model: location needs both latitude and longitude")
	}
	return nil
}
