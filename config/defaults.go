package config

import "time"

// Defaults returns the lowest-priority configuration layer.
// A fresh map is built on every call so callers may mutate it.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"general": map[string]interface{}{
			"debug":      false,
			"log_level":  "info",
			"log_format": "json",
		},
		"server": map[string]interface{}{
			"address": ":8080",
		},
		"adapters": []interface{}{
			map[string]interface{}{
				"id":                 "claude",
				"provider":           ProviderAnthropic,
				"model":              "claude-sonnet-4-5",
				"api_key_env":        "ANTHROPIC_API_KEY",
				"max_retries":        2,
				"timeout":            90 * time.Second,
				"max_tokens":         8192,
				"cost_per_1k_input":  0.003,
				"cost_per_1k_output": 0.015,
			},
			map[string]interface{}{
				"id":                 "gpt",
				"provider":           ProviderOpenAI,
				"model":              "gpt-4o-mini",
				"api_key_env":        "OPENAI_API_KEY",
				"max_retries":        2,
				"timeout":            90 * time.Second,
				"max_tokens":         8192,
				"cost_per_1k_input":  0.00015,
				"cost_per_1k_output": 0.0006,
			},
		},
		"fallback_chains": map[string]interface{}{
			"claude": []interface{}{"gpt"},
		},
		"agents": map[string]interface{}{
			"classification": map[string]interface{}{
				"adapter":         "claude",
				"fallbacks":       []interface{}{},
				"max_retries":     3,
				"timeout":         60 * time.Second,
				"prompt_template": "classification",
				"temperature":     0.1,
				"max_tokens":      1024,
			},
			"decomposition": map[string]interface{}{
				"adapter":         "claude",
				"fallbacks":       []interface{}{},
				"max_retries":     3,
				"timeout":         120 * time.Second,
				"prompt_template": "decomposition",
				"temperature":     0.2,
				"max_tokens":      8192,
			},
		},
		"pipeline": map[string]interface{}{
			"max_retries":   3,
			"stage_timeout": 120 * time.Second,
			"backoff_base":  time.Second,
		},
		"worker": map[string]interface{}{
			"concurrency":     4,
			"stream":          "requirements.decompose",
			"progress_stream": "requirements.progress",
			"group":           "sherpa-workers",
			"consumer":        "",
			"status_ttl":      24 * time.Hour,
		},
		"telemetry": map[string]interface{}{
			"enabled":      false,
			"service_name": "sherpa",
			"metrics_port": 0,
		},
		"storage": map[string]interface{}{
			"postgres": map[string]interface{}{
				"url":      "",
				"host":     "localhost",
				"port":     "5432",
				"user":     "sherpa",
				"password": "",
				"dbname":   "sherpa",
				"sslmode":  "disable",
				"timeout":  5 * time.Second,
			},
			"redis": map[string]interface{}{
				"host":     "localhost",
				"port":     "6379",
				"password": "",
				"db":       0,
				"timeout":  5 * time.Second,
			},
			"s3": map[string]interface{}{
				"endpoint":       "",
				"region":         "us-east-1",
				"bucket":         "",
				"prefix":         "",
				"use_path_style": false,
			},
		},
		"reload": map[string]interface{}{
			"interval":   time.Duration(0),
			"schedule":   "",
			"watch_file": false,
			"redis_key":  "sherpa:config",
		},
	}
}
