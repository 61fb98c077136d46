package types

import "cfgkeeper/internal/validator"

var validate = validator.New()
