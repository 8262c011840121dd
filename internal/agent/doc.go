// Package agent contains the kernel orchestrator. A run enriches one model
// request step by step (memory, plan, tool instructions, extracted web
// pages, critic notes), calls the model executor, lets the model request a
// single web extraction, sanitizes the answer, writes memory and records a
// RunTrace. Which steps run is decided by the stage snapshot taken when the
// run starts.
package agent
