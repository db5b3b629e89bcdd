package main

import (
	"testing"

	"github.com/srg/hopper/pkg/config"
	"github.com/stretchr/testify/suite"
)

type PanelsCommandTestSuite struct {
	CommandTestSuite
}

func (s *PanelsCommandTestSuite) TestList() {
	output, err := s.ExecuteCommand("panels")

	s.Require().NoError(err)
	s.Contains(output, "NAME")
	s.Contains(output, "Kitchen")
	s.Contains(output, TestPanelAddress3)
	s.Contains(output, "top_left")
	s.Contains(output, "bottom_right")
}

func (s *PanelsCommandTestSuite) TestListEmpty() {
	s.configPath = s.T().TempDir() + "/absent.yaml"

	output, err := s.ExecuteCommand("panels")

	s.Require().NoError(err, "missing panel file MUST not be an error")
	s.Contains(output, "No panels registered")
}

func (s *PanelsCommandTestSuite) TestEdits() {
	// GOAL: Verify every edit subcommand is persisted to the panel file
	//
	// TEST SCENARIO: disable, enable, rename, order, grid, add, remove → reload → changes visible

	s.Run("disable", func() {
		output, err := s.ExecuteCommand("panels", "disable", "kitchen", "hallway")
		s.Require().NoError(err)
		s.Contains(output, "Disabled Kitchen, Hallway")
		s.Empty(s.LoadConfig().EnabledPanels())
	})

	s.Run("enable", func() {
		_, err := s.ExecuteCommand("panels", "enable", "office")
		s.Require().NoError(err)
		enabled := s.LoadConfig().EnabledPanels()
		s.Require().Len(enabled, 1)
		s.Equal("Office", enabled[0].Name)
	})

	s.Run("rename", func() {
		_, err := s.ExecuteCommand("panels", "rename", TestPanelAddress3, "Study")
		s.Require().NoError(err)
		p, _ := s.LoadConfig().PanelByAddress(TestPanelAddress3)
		s.Equal("Study", p.Name)
	})

	s.Run("order", func() {
		_, err := s.ExecuteCommand("panels", "order", "study", "5")
		s.Require().NoError(err)
		p, _ := s.LoadConfig().PanelByName("study")
		s.Equal(5, p.Order)

		_, err = s.ExecuteCommand("panels", "order", "study", "first")
		s.ErrorContains(err, "invalid order")
	})

	s.Run("grid", func() {
		_, err := s.ExecuteCommand("panels", "grid", "tr", "study")
		s.Require().NoError(err)
		s.Equal(TestPanelAddress3, s.LoadConfig().Grid().TopRight)

		_, err = s.ExecuteCommand("panels", "grid", "tr")
		s.Require().NoError(err)
		s.Empty(s.LoadConfig().Grid().TopRight, "MUST clear the slot")
	})

	s.Run("add", func() {
		output, err := s.ExecuteCommand("panels", "add", "aa:bb:cc:dd:ee:04")
		s.Require().NoError(err)
		s.Contains(output, "Registered Panel EE:04")
		s.Len(s.LoadConfig().Panels(), 4)
	})

	s.Run("remove", func() {
		_, err := s.ExecuteCommand("panels", "remove", "kitchen")
		s.Require().NoError(err)
		cfg := s.LoadConfig()
		_, ok := cfg.PanelByAddress(TestPanelAddress1)
		s.False(ok)
		s.Empty(cfg.Grid().TopLeft, "removal MUST clear the grid slot")
	})

	s.Run("unknown panel", func() {
		_, err := s.ExecuteCommand("panels", "disable", "garage")
		s.ErrorIs(err, config.ErrPanelNotFound)
	})
}

func TestParseGridPosition(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"tl", config.TopLeft},
		{"TR", config.TopRight},
		{" bl ", config.BottomLeft},
		{"bottom_right", config.BottomRight},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseGridPosition(tt.in)
			if err != nil {
				t.Fatalf("parseGridPosition(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseGridPosition(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	if _, err := parseGridPosition("centre"); err == nil {
		t.Error("expected error for unknown position")
	}
}

func TestPanelsCommandTestSuite(t *testing.T) {
	suite.Run(t, new(PanelsCommandTestSuite))
}
