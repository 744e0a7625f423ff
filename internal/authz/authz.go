package authz

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Authz — креды basic-auth из auth.yaml. Тот же файл читает апстрим,
// поэтому смена пароля через UpdatePassword переживает рестарт.
type Authz struct {
	mu sync.RWMutex
	v  *viper.Viper
}

func New(path string) (*Authz, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "qwerty63")

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read auth config")
		}
	}
	// файла может не быть при первом запуске — живём на дефолтах

	return &Authz{v: v}, nil
}

func (a *Authz) Credentials() (username, password string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.v.GetString("auth.username"), a.v.GetString("auth.password")
}

func (a *Authz) Verify(username, password string) bool {
	u, p := a.Credentials()
	return username == u && password == p
}

func (a *Authz) UpdatePassword(newPassword string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.v.Set("auth.password", newPassword)
	if err := a.v.WriteConfig(); err != nil {
		return errors.Wrap(err, "write auth config")
	}
	return nil
}
