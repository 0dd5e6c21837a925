package config

import "PaymentReconciler/internal/db"

func (c *Config) DBOptions() db.Options {
	return db.Options{
		DSN:            c.DB.DSN,
		MaxConns:       c.DB.MaxConns,
		MinConns:       c.DB.MinConns,
		AcquireTimeout: c.DB.AcquireTimeout,
	}
}
