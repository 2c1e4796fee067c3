package memorybank

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key names one of the six fixed documents. It is also the file name on disk.
type Key string

const (
	ProjectBrief   Key = "projectbrief.md"
	ProductContext Key = "productContext.md"
	ActiveContext  Key = "activeContext.md"
	SystemPatterns Key = "systemPatterns.md"
	TechContext    Key = "techContext.md"
	Progress       Key = "progress.md"
)

// URIScheme prefixes resource URIs: memory-bank://<key>.
const URIScheme = "memory-bank://"

// Keys returns the document keys in canonical order. Every listing uses this
// order.
func Keys() []Key {
	return []Key{ProjectBrief, ProductContext, ActiveContext, SystemPatterns, TechContext, Progress}
}

// Info describes a document for listings.
type Info struct {
	Key         Key
	Title       string
	Description string
}

var infos = map[Key]Info{
	ProjectBrief: {
		Key:         ProjectBrief,
		Title:       "Project Brief",
		Description: "Foundation document: core requirements, goals and scope of the project",
	},
	ProductContext: {
		Key:         ProductContext,
		Title:       "Product Context",
		Description: "Why the project exists, the problems it solves and the intended user experience",
	},
	ActiveContext: {
		Key:         ActiveContext,
		Title:       "Active Context",
		Description: "Current work focus, recent changes and next steps",
	},
	SystemPatterns: {
		Key:         SystemPatterns,
		Title:       "System Patterns",
		Description: "Architecture, key technical decisions and design patterns in use",
	},
	TechContext: {
		Key:         TechContext,
		Title:       "Tech Context",
		Description: "Technologies, development setup, constraints and dependencies",
	},
	Progress: {
		Key:         Progress,
		Title:       "Progress",
		Description: "What works, what is left to build, current status and known issues",
	},
}

// IsKey reports whether s names one of the fixed documents.
func IsKey(s string) bool {
	_, ok := infos[Key(s)]
	return ok
}

// InfoFor returns the listing metadata for key.
func InfoFor(key Key) (Info, bool) {
	info, ok := infos[key]
	return info, ok
}

// URI returns the resource URI of key.
func (k Key) URI() string { return URIScheme + string(k) }

// ParseURI extracts the document key from a memory-bank:// URI. The key is
// not checked against the enumeration.
func ParseURI(uri string) (Key, bool) {
	rest, ok := strings.CutPrefix(uri, URIScheme)
	if !ok || rest == "" {
		return "", false
	}
	return Key(rest), true
}

// Checksum returns the hex SHA-256 of content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Template returns the seed content for key.
func Template(key Key) string {
	return templates[key]
}

var templates = map[Key]string{
	ProjectBrief: `# Project Brief

## Overview
Describe the project in a few sentences.

## Core Requirements
-

## Goals
-

## Scope
What is in scope and what is explicitly out of scope.
`,
	ProductContext: `# Product Context

## Why This Project Exists
The problem this project addresses.

## Problems It Solves
-

## How It Should Work
The intended behavior from the user's point of view.

## User Experience Goals
-
`,
	ActiveContext: `# Active Context

## Current Focus
What is being worked on right now.

## Recent Changes
-

## Next Steps
-

## Active Decisions
Open questions and decisions in progress.
`,
	SystemPatterns: `# System Patterns

## Architecture
High-level structure of the system.

## Key Technical Decisions
-

## Design Patterns
-

## Component Relationships
How the main parts fit together.
`,
	TechContext: `# Tech Context

## Technologies Used
-

## Development Setup
How to build, run and test the project.

## Technical Constraints
-

## Dependencies
-
`,
	Progress: `# Progress

## What Works
-

## What's Left to Build
-

## Current Status
Overall state of the project.

## Known Issues
-
`,
}
