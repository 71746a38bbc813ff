// Package freeenergy chooses a control command by minimising a composite
// free-energy objective over a short horizon.
//
// # Objective
//
// The objective is a weighted sum of pluggable Terms. Each term scores a
// tentative acceleration u given the tick's Input:
//
//   - goal: divergence of the resulting velocity from the preferred one,
//     or a forward-progress reward when no preference is set
//   - safety: risk- and proximity-weighted approach speed towards every
//     occupied SPM cell, an intimate-zone penalty and a lateral detour reward
//   - surprise: divergence from the velocity the forward model expects
//   - obstacle: soft repulsion from explicit obstacle points
//
// Terms are registered by name in a Registry so configuration can select
// them.
//
// # Minimisation
//
// The Optimizer runs gradient descent warm-started from the previous
// command. Gradients are analytic when every term provides one and central
// finite differences otherwise. Each step is clipped per component and the
// command is clamped to [-u_max, u_max]. When no usable gradient is found,
// or the objective is not finite, the optimizer falls back to a decayed
// previous command and reports ErrDegenerate. The returned command is never
// NaN.
package freeenergy
