package domain

type RouterRequestCreateTask struct {
	Title       string  `json:"title" binding:"required,max=255"`
	Description *string `json:"description" binding:"omitempty"`
	Priority    *string `json:"priority" binding:"omitempty,validate_priority"`
}

type RouterRequestListTasks struct {
	Page     int32   `form:"page,default=1" binding:"omitempty,min=1"`
	PageSize int32   `form:"page_size,default=10" binding:"omitempty,min=1,max=100"`
	Status   *string `form:"status" binding:"omitempty,validate_status"`
	Priority *string `form:"priority" binding:"omitempty,validate_priority"`
}

type RouterResponseTaskList struct {
	Items    []*Task `json:"items"`
	Total    int64   `json:"total"`
	Page     int32   `json:"page"`
	PageSize int32   `json:"page_size"`
}
