// internal/repository/mock_gen.go
package repository

//go:generate mockgen -source=./directory.go -destination=../mocks/mock_directory.go -package=mocks DirectoryIface
