package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

const erDupEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erDupEntry
}
