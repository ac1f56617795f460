package api

import (
	"context"
	"errors"
)

type UserService interface {
	GetUserByIds(ctx context.Context, userIds []string) ([]*UserModel, error)
}

type UserRepository interface {
	GetUserByIds(ctx context.Context, userIds []string) ([]*UserModel, error)
}

type userService struct {
	storage UserRepository
}

func NewUserService(repository UserRepository) UserService {
	return &userService{storage: repository}
}

func (u *userService) GetUserByIds(ctx context.Context, userIds []string) ([]*UserModel, error) {
	if len(userIds) == 0 {
		return nil, errors.New("userId array is empty")
	}

	users, err := u.storage.GetUserByIds(ctx, userIds)
	if err != nil {
		return nil, err
	}

	return users, nil
}
