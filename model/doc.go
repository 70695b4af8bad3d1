// Package model defines the provider‑agnostic reasoning engine used by the
// internal workers.
//
// Core goals:
//   - Unify streaming + non‑streaming generation behind a single interface
//   - Keep request/response shapes text-only and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so workers stay decoupled from vendor SDKs. Complete drains a
// generation into its final text.
package model
