package config

// ProjectDir is the per-project directory holding config and runtime state.
const ProjectDir = ".parley"

// DefaultConfigYAML contains the starter configuration written by `parley init`.
// Values not specified here use the loader defaults.
const DefaultConfigYAML = `# Parley configuration
#
# Values not specified here use sensible defaults.

# Logging
log:
  level: info
  format: auto

# Turn execution
engine:
  # Default assistant mode: concise | standard | thorough
  mode: standard
  step_timeout: 60s
  turn_timeout: 5m
  # Extra attempts for transient step failures (writes are never retried)
  max_retries: 1

# Conversation context rendering
context:
  max_tokens: 4096
  full_detail_turns: 10

# Entity reference registry. The window counts history records (each user
# message and assistant reply is one), so 20 covers 10 exchanges.
registry:
  evict_after_turns: 20

# State persistence: sqlite (default) or json (single-file document store)
store:
  backend: sqlite
  path: .parley/parley.db

# Generation backend: static works offline, openai needs an API key
# (set via PARLEY_GENERATION_API_KEY or generation.api_key)
generation:
  provider: static
  model: gpt-4o-mini
  max_tokens: 1024
  # Client-side requests per second, 0 disables limiting
  rate_limit: 0

# Background profile builder
profile:
  enabled: true
  interval: 2m
  stale_after: 24h
  cache_path: .parley/profiles
`
