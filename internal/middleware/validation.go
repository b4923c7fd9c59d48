package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yigit/coursechat/internal/app/models/dto"
	"github.com/yigit/coursechat/internal/pkg/validation"
)

// ContextKeyValidatedBody is where ValidateBody stores the decoded request
const ContextKeyValidatedBody = "validatedBody"

// ValidateBody decodes the JSON body into a fresh T and validates it. Handlers read the
// result with ValidatedBody.
func ValidateBody[T any]() gin.HandlerFunc {
	return func(c *gin.Context) {
		obj := new(T)
		if err := c.ShouldBindJSON(obj); err != nil {
			errorDetail := dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid request format")
			errorDetail = errorDetail.WithDetails(err.Error())
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponse(errorDetail))
			return
		}

		if err := validation.Struct(obj); err != nil {
			HandleAPIError(c, err)
			c.Abort()
			return
		}

		c.Set(ContextKeyValidatedBody, obj)
		c.Next()
	}
}

// ValidatedBody returns the body stored by ValidateBody
func ValidatedBody[T any](c *gin.Context) (*T, bool) {
	v, ok := c.Get(ContextKeyValidatedBody)
	if !ok {
		return nil, false
	}
	obj, ok := v.(*T)
	return obj, ok
}
